package gopyext

import (
	"strings"
	"testing"
)

func TestCheckToolAvailable(t *testing.T) {
	// Some shell is present on every supported platform.
	shell := "sh"
	if err := CheckToolAvailable(shell); err != nil {
		t.Skipf("no %s on this host: %v", shell, err)
	}

	if err := CheckToolAvailable("definitely-not-a-real-tool-xyz"); err == nil {
		t.Error("Expected error for missing tool")
	}
}

func TestCheckRequiredToolsAlternatives(t *testing.T) {
	requirePOSIXShell(t)

	// The primary name is missing but an alternative exists.
	reqs := []ToolRequirement{
		{
			Name:         "definitely-not-a-real-tool-xyz",
			Alternatives: []string{"sh"},
			Purpose:      "shell",
		},
	}
	if err := CheckRequiredTools(reqs); err != nil {
		t.Errorf("Expected alternative to satisfy requirement, got %v", err)
	}
}

func TestCheckRequiredToolsOptional(t *testing.T) {
	reqs := []ToolRequirement{
		{
			Name:     "definitely-not-a-real-tool-xyz",
			Optional: true,
			Purpose:  "nice to have",
		},
	}
	if err := CheckRequiredTools(reqs); err != nil {
		t.Errorf("Expected optional tool to be tolerated, got %v", err)
	}
}

func TestCheckRequiredToolsReportsAllMissing(t *testing.T) {
	reqs := []ToolRequirement{
		{Name: "missing-tool-one", Purpose: "first"},
		{Name: "missing-tool-two", Purpose: "second"},
	}

	err := CheckRequiredTools(reqs)
	if err == nil {
		t.Fatal("Expected error for missing tools")
	}
	for _, want := range []string{"missing-tool-one (first)", "missing-tool-two (second)"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Expected error to mention %q, got %q", want, err)
		}
	}
}

func TestBuildToolInventories(t *testing.T) {
	host := HostBuildTools()
	if len(host) == 0 || host[0].Name != "go" {
		t.Errorf("Expected host tools to start with the Go toolchain, got %v", host)
	}

	cross := CrossBuildTools()
	if len(cross) != 1 || cross[0].Name != "docker" {
		t.Errorf("Expected cross tools to require docker, got %v", cross)
	}
}
