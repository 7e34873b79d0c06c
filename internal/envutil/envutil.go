package envutil

import (
	"os"
	"strings"
)

// IsDev reports whether SENTRY_MCP_ENV selects development mode, where cookies
// drop the Secure flag and system error messages are shown to callers.
func IsDev() bool {
	env := strings.ToLower(os.Getenv("SENTRY_MCP_ENV"))
	return env == "development" || env == "dev"
}

// IsProduction is the inverse of IsDev.
func IsProduction() bool {
	return !IsDev()
}
