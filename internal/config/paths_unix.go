//go:build linux || darwin

package config

import (
	"os"
	"path/filepath"
)

func configSearchPaths() []string {
	home, _ := os.UserHomeDir()
	return []string{
		filepath.Join(home, ".ssn1", "config.yaml"),
		"/etc/ssn1/ssn1.yaml",
	}
}
