// Package errors keeps internal failure detail out of API responses.
//
// Errors raised inside the engine carry broker addresses, store DSNs
// and playbook internals that operators calling the HTTP API must not
// see. Validation errors, in contrast, are for the operator and pass
// through untouched.
package errors

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	filePathPattern = regexp.MustCompile(`(/[a-zA-Z0-9_\-./]+)|([A-Z]:\\[a-zA-Z0-9_\-\\ ./]+)`)

	ipPattern = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)

	// Backend-specific detail that should never leave the engine.
	backendPattern = regexp.MustCompile(`(?i)(clickhouse|redis:|kafka|dial tcp|connection refused|password=|secret=|token=|api[_-]?key=)`)
)

// ProductionMode controls whether messages are sanitized. Development
// deployments keep full detail for debugging.
var ProductionMode = false

// SetProductionMode sets the sanitization flag. Called once at startup.
func SetProductionMode(production bool) {
	ProductionMode = production
}

// Sanitize removes internal detail from an error before it crosses the
// API boundary. Returns the original error when not in production mode.
func Sanitize(err error) error {
	if err == nil {
		return nil
	}
	if !ProductionMode {
		return err
	}
	return errors.New(SanitizeString(err.Error()))
}

// SanitizeString removes internal detail from a message.
func SanitizeString(s string) string {
	if !ProductionMode {
		return s
	}

	if backendPattern.MatchString(s) {
		return "backend operation failed"
	}

	s = filePathPattern.ReplaceAllStringFunc(s, func(match string) string {
		return filepath.Base(match)
	})

	// Keep two octets so operators can still tell networks apart.
	s = ipPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := strings.Split(match, ".")
		if len(parts) == 4 {
			return fmt.Sprintf("%s.%s.x.x", parts[0], parts[1])
		}
		return "x.x.x.x"
	})

	if strings.Contains(s, "goroutine") || strings.Count(s, "\n") > 3 {
		s = "internal error"
	}

	return s
}

// operatorFacing lists message fragments that are safe for API callers.
// These come from validation and lookup paths the operator controls.
var operatorFacing = []string{
	"invalid binding",
	"predicate syntax error",
	"binding not found",
	"playbook not found",
	"execution not found",
	"unknown action",
	"validation failed",
	"invalid request",
	"unauthorized",
	"forbidden",
	"not found",
}

// SafeMessage returns a message suitable for an API response. Operator
// mistakes pass through verbatim; engine internals are sanitized.
func SafeMessage(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	lower := strings.ToLower(msg)
	for _, safe := range operatorFacing {
		if strings.Contains(lower, safe) {
			return msg
		}
	}
	return SanitizeString(msg)
}
