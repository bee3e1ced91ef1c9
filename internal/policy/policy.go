// Package policy gates which commands may run in the current invocation.
package policy

import (
	"strings"

	clierr "github.com/ggonzalez94/xswap-cli/internal/errors"
)

func CheckCommandAllowed(allowlist []string, commandPath string) error {
	if len(allowlist) == 0 {
		return nil
	}
	normPath := normalize(commandPath)
	for _, allowed := range allowlist {
		if normalize(allowed) == normPath {
			return nil
		}
	}
	return clierr.New(clierr.CodeBlocked, "command blocked by --enable-commands policy")
}

// IsExecutionCommand reports whether commandPath signs and broadcasts
// transactions.
func IsExecutionCommand(commandPath string) bool {
	parts := strings.Fields(normalize(commandPath))
	return len(parts) > 0 && parts[len(parts)-1] == "submit"
}

func normalize(v string) string {
	parts := strings.Fields(strings.ToLower(strings.TrimSpace(v)))
	return strings.Join(parts, " ")
}
