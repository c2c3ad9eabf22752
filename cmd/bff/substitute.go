package main

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// substituteEnv replaces every `${VAR}` reference in src with the value of
// the corresponding environment variable. Every name that has no value set
// is collected and returned as an error rather than silently left in place,
// matching exit code 2 (grounded on the original source's
// Substitutions/main.rs env pass).
func substituteEnv(src []byte) ([]byte, error) {
	var missing []string
	seen := map[string]bool{}

	out := envVarPattern.ReplaceAllStringFunc(string(src), func(match string) string {
		name := envVarPattern.FindStringSubmatch(match)[1]

		value, ok := os.LookupEnv(name)
		if !ok {
			if !seen[name] {
				seen[name] = true
				missing = append(missing, name)
			}

			return match
		}

		return value
	})

	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("unresolved environment variable(s): %s", strings.Join(missing, ", "))
	}

	return []byte(out), nil
}
