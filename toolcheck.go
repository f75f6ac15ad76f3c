package gopyext

import (
	"fmt"
	"os/exec"
	"strings"
)

// ToolRequirement describes a build tool dependency.
//
// Requirements can name alternative binaries (any one satisfies the
// requirement) and can be marked optional so their absence is tolerated.
type ToolRequirement struct {
	// Name is the primary tool binary name (e.g. "go", "docker").
	Name string

	// Alternatives are alternative binary names that can satisfy this
	// requirement. Example: []string{"clang", "cc"}.
	Alternatives []string

	// Optional indicates this tool won't cause an error if missing.
	Optional bool

	// Purpose is a human-readable description of why the tool is needed.
	Purpose string
}

// HostBuildTools returns the tools a plain (non-containerized) build needs
// on the host before anything is generated. The C compiler is required
// because the final link of the extension runs through CGO.
func HostBuildTools() []ToolRequirement {
	return []ToolRequirement{
		{
			Name:    "go",
			Purpose: "Go compiler and toolchain",
		},
		{
			Name:         "gcc",
			Alternatives: []string{"clang", "cc"},
			Purpose:      "C compiler (required for CGO)",
		},
	}
}

// CrossBuildTools returns the host-side tools a manylinux build needs; the
// compilers come from the container image and the managed toolchain.
func CrossBuildTools() []ToolRequirement {
	return []ToolRequirement{
		{
			Name:    "docker",
			Purpose: "container engine for manylinux builds",
		},
	}
}

// CheckToolAvailable checks if a tool is available in the system PATH.
func CheckToolAvailable(tool string) error {
	if _, err := exec.LookPath(tool); err != nil {
		return fmt.Errorf("%s not found in PATH", tool)
	}
	return nil
}

// CheckRequiredTools verifies all required tools are available.
//
// The primary name is checked first, then each alternative. Optional tools
// never cause an error. All missing required tools are reported in a
// single error so the operator can fix them in one pass.
func CheckRequiredTools(requirements []ToolRequirement) error {
	var missing []string

	for _, req := range requirements {
		found := CheckToolAvailable(req.Name) == nil

		if !found {
			for _, alt := range req.Alternatives {
				if CheckToolAvailable(alt) == nil {
					found = true
					break
				}
			}
		}

		if !found && !req.Optional {
			if req.Purpose != "" {
				missing = append(missing, fmt.Sprintf("%s (%s)", req.Name, req.Purpose))
			} else {
				missing = append(missing, req.Name)
			}
		}
	}

	if len(missing) == 0 {
		return nil
	}

	if len(missing) == 1 {
		return fmt.Errorf("%s not found in PATH", missing[0])
	}

	return fmt.Errorf("missing required tools: %s", strings.Join(missing, ", "))
}
