package util

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var ErrEnvNotSet = errors.New("environment variable not set")

// ${NAME} or ${NAME:-fallback}
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// ExpandEnvStrict substitutes ${NAME} references. A reference without a
// fallback whose variable is unset is an error.
func ExpandEnvStrict(s string) (string, error) {
	var missing []string

	out := envVarPattern.ReplaceAllStringFunc(s, func(ref string) string {
		m := envVarPattern.FindStringSubmatch(ref)
		name := m[1]
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		if strings.Contains(ref, ":-") {
			return m[2]
		}
		missing = append(missing, name)
		return ref
	})

	if len(missing) > 0 {
		return "", fmt.Errorf("%w: %s", ErrEnvNotSet, strings.Join(missing, ", "))
	}
	return out, nil
}

// LoadAndExpandYaml reads <baseDir>/<name>.yml and expands its env references.
func LoadAndExpandYaml(baseDir, name string) (string, error) {
	file := filepath.Join(baseDir, name+".yml")

	raw, err := os.ReadFile(file)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%s.yml not found in %s", name, baseDir)
		}
		return "", fmt.Errorf("read %s: %w", file, err)
	}

	return ExpandEnvStrict(string(raw))
}
