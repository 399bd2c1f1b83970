//go:build windows

package config

import (
	"os"
	"path/filepath"
)

func configSearchPaths() []string {
	local := os.Getenv("LOCALAPPDATA")
	programData := os.Getenv("ProgramData")
	return []string{
		filepath.Join(local, "SSN1", "config.yaml"),
		filepath.Join(programData, "SSN1", "ssn1.yaml"),
	}
}
