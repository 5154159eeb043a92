//go:build mage

package main

import (
	"path/filepath"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

// Convert builds the CLI and converts every PDF in pdfs/ into md_output/.
func Convert() error {
	mg.Deps(Init, Build)
	return sh.RunV(filepath.Join(binDir, binName), "convert", "pdfs", "--output", "md_output")
}

// Device prints the acceleration device a conversion would use.
func Device() error {
	mg.Deps(Build)
	return sh.RunV(filepath.Join(binDir, binName), "device")
}
