//go:build mage

package main

import (
	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

// Build compiles the library and the gopy-build CLI.
func Build() error {
	return sh.RunV("go", "build", "./...")
}

// Test runs the unit tests.
func Test() error {
	return sh.RunV("go", "test", "./...")
}

// Lint runs go vet over the module.
func Lint() error {
	return sh.RunV("go", "vet", "./...")
}

// CI runs lint and tests, the way the pipeline does.
func CI() {
	mg.SerialDeps(Lint, Test)
}
