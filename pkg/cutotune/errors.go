package cutotune

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrConfigurationSpace reports an empty or inconsistent set of configs.
	ErrConfigurationSpace = errors.New("cutotune: invalid configuration space")
	// ErrOverrideProtocol reports a call mixing Auto markers and fixed values.
	ErrOverrideProtocol = errors.New("cutotune: override protocol violated")
	// ErrNoApplicableConfiguration reports a sweep where every config was rejected.
	ErrNoApplicableConfiguration = errors.New("cutotune: no applicable configuration")
	// ErrUnknownTrigger reports a trigger that cannot be resolved.
	ErrUnknownTrigger = errors.New("cutotune: unknown trigger")
	// ErrCachePersistence reports a cache file that cannot be read or written.
	ErrCachePersistence = errors.New("cutotune: cache persistence failed")
)

type tuneError struct {
	kind error
	msg  string
}

func (e tuneError) Error() string {
	return e.kind.Error() + ": " + e.msg
}

func (e tuneError) Unwrap() error {
	return e.kind
}

func configSpaceError(format string, args ...any) error {
	return tuneError{kind: ErrConfigurationSpace, msg: fmt.Sprintf(format, args...)}
}

func unknownTriggerError(format string, args ...any) error {
	return tuneError{kind: ErrUnknownTrigger, msg: fmt.Sprintf(format, args...)}
}

func noApplicableError(op string, key Key) error {
	return tuneError{
		kind: ErrNoApplicableConfiguration,
		msg:  fmt.Sprintf("%s: every config was rejected for key %q", op, key),
	}
}

// OverrideError names the tunable parameters that broke the all-or-nothing rule.
type OverrideError struct {
	Op     string
	Auto   []string
	Fixed  []string
	Reason string
}

func (e *OverrideError) Error() string {
	var b strings.Builder
	b.WriteString(ErrOverrideProtocol.Error())
	b.WriteString(": ")
	b.WriteString(e.Op)
	b.WriteString(": ")
	b.WriteString(e.Reason)
	if len(e.Auto) > 0 {
		b.WriteString(" (auto: ")
		b.WriteString(strings.Join(e.Auto, ", "))
		b.WriteString(")")
	}
	if len(e.Fixed) > 0 {
		b.WriteString(" (fixed: ")
		b.WriteString(strings.Join(e.Fixed, ", "))
		b.WriteString(")")
	}
	return b.String()
}

func (e *OverrideError) Unwrap() error {
	return ErrOverrideProtocol
}

// CacheError wraps a cache load/save failure with the file it concerns.
type CacheError struct {
	Path string
	Err  error
}

func (e *CacheError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrCachePersistence, e.Path, e.Err)
}

func (e *CacheError) Unwrap() []error {
	return []error{ErrCachePersistence, e.Err}
}
