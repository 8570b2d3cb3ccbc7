package bobsync

import (
	"fmt"
	"strings"
)

// Error taxonomy. Row-scoped errors (lookup, transient, unexpected response)
// are captured into the staged row's result columns and never abort a run.
// ConfigurationError and FatalInfrastructureError propagate to the caller.

type ConfigurationError struct {
	Msg string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Msg
}

// LookupNotFoundError reports an unresolvable external id or list label,
// carrying up to five known labels for diagnostics. We never guess a close
// match.
type LookupNotFoundError struct {
	Kind        string // "employee" or "list value"
	Key         string
	ListName    string
	Suggestions []string
}

func (e *LookupNotFoundError) Error() string {
	msg := fmt.Sprintf("%s %q not found", e.Kind, e.Key)
	if e.ListName != "" {
		msg += " in list " + e.ListName
	}
	if len(e.Suggestions) > 0 {
		msg += "; known values: " + strings.Join(e.Suggestions, ", ")
	}
	return msg
}

type TransientNetworkError struct {
	StatusCode int // 0 for transport-level failures
	Err        error
}

func (e *TransientNetworkError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("transient error (status %d): %v", e.StatusCode, e.Err)
	}
	return "network error: " + e.Err.Error()
}

func (e *TransientNetworkError) Unwrap() error { return e.Err }

type UnexpectedResponseError struct {
	StatusCode int
	Body       string
}

func (e *UnexpectedResponseError) Error() string {
	return fmt.Sprintf("unexpected response %d: %s", e.StatusCode, e.Body)
}

type FatalInfrastructureError struct {
	Op  string
	Err error
}

func (e *FatalInfrastructureError) Error() string {
	return fmt.Sprintf("fatal: %s: %v", e.Op, e.Err)
}

func (e *FatalInfrastructureError) Unwrap() error { return e.Err }
