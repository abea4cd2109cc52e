package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"

	"github.com/joho/godotenv"
)

var reEnvRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ExpandEnv replaces ${NAME} references with environment values. Bare $NAME
// is left alone so literal dollar signs in prompts survive.
func ExpandEnv(s string) string {
	return reEnvRef.ReplaceAllStringFunc(s, func(m string) string {
		name := reEnvRef.FindStringSubmatch(m)[1]
		return os.Getenv(name)
	})
}

func expandEnvBytes(b []byte) []byte {
	return []byte(ExpandEnv(string(b)))
}

// LoadEnvFiles reads KEY=value files into the process environment so
// credentials can stay out of config and account files. Missing files are
// skipped and variables already set are not overridden. It returns the
// files that were read.
func LoadEnvFiles(paths ...string) ([]string, error) {
	var loaded []string
	for _, p := range paths {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return loaded, fmt.Errorf("env file %s: %w", p, err)
		}
		loaded = append(loaded, p)
	}
	return loaded, nil
}
