package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"
)

// Kinds reported by the typed errors of this package.
const (
	KindAnalyzer      = "analyzer"
	KindTimeout       = "timeout"
	KindCache         = "cache"
	KindInference     = "inference"
	KindConfiguration = "configuration"
)

// Exit codes returned by the CLI.
const (
	ExitOK       = 0
	ExitFindings = 1
	ExitFailure  = 2
)

// AnalyzerError is returned when a single analyzer fails or panics on a file.
// It never aborts the run.
type AnalyzerError struct {
	Analyzer string
	Path     string
	Panicked bool
	Err      error
}

func (e *AnalyzerError) Error() string {
	if e.Panicked {
		return fmt.Sprintf("analyzer %q panicked on %q: %v", e.Analyzer, e.Path, e.Err)
	}
	return fmt.Sprintf("analyzer %q failed on %q: %v", e.Analyzer, e.Path, e.Err)
}

func (e *AnalyzerError) Unwrap() error { return e.Err }
func (e *AnalyzerError) Kind() string  { return KindAnalyzer }

// NewAnalyzerError wraps err for the given analyzer and path.
func NewAnalyzerError(analyzer, path string, err error) *AnalyzerError {
	return &AnalyzerError{Analyzer: analyzer, Path: path, Err: err}
}

// TimeoutError marks a file whose analysis exceeded its deadline.
type TimeoutError struct {
	Path    string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("analysis of %q timed out after %v", e.Path, e.Timeout)
}

func (e *TimeoutError) Unwrap() error { return context.DeadlineExceeded }
func (e *TimeoutError) Kind() string  { return KindTimeout }

// CacheError is reported when the cache backend cannot be read or written.
// The engine degrades to cache misses when it sees one.
type CacheError struct {
	Op  string
	Key string
	Err error
}

func (e *CacheError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("cache %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("cache %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *CacheError) Unwrap() error { return e.Err }
func (e *CacheError) Kind() string  { return KindCache }

// InferenceError is reported when the false-positive model cannot score findings.
type InferenceError struct {
	Op  string
	Err error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("inference %s: %v", e.Op, e.Err)
}

func (e *InferenceError) Unwrap() error { return e.Err }
func (e *InferenceError) Kind() string  { return KindInference }

// FatalConfigurationError is the only error that stops a run before it starts.
type FatalConfigurationError struct {
	Field string
	Err   error
}

func (e *FatalConfigurationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid configuration: %v", e.Err)
	}
	return fmt.Sprintf("invalid configuration %q: %v", e.Field, e.Err)
}

func (e *FatalConfigurationError) Unwrap() error { return e.Err }
func (e *FatalConfigurationError) Kind() string  { return KindConfiguration }

// NewFatalConfigurationError builds a FatalConfigurationError from a formatted message.
func NewFatalConfigurationError(field, format string, args ...interface{}) *FatalConfigurationError {
	return &FatalConfigurationError{Field: field, Err: fmt.Errorf(format, args...)}
}

// IsFatal reports whether err carries a FatalConfigurationError.
func IsFatal(err error) bool {
	var fatal *FatalConfigurationError
	return stderrors.As(err, &fatal)
}

// KindOf returns the kind of the first typed error in err's chain, or "" if there is none.
func KindOf(err error) string {
	var k interface{ Kind() string }
	if stderrors.As(err, &k) {
		return k.Kind()
	}
	return ""
}

// CommandError represents a failed command invocation and the exit code it maps to.
type CommandError struct {
	ExitCode    int
	CommonError string
	Err         error
}

// Error implements the error interface, returning the message from the common error.
func (e *CommandError) Error() string {
	return e.CommonError
}

func (e *CommandError) Unwrap() error { return e.Err }

// NewCommandError wraps err with the exit code the process should return.
func NewCommandError(err error, code int) *CommandError {
	return &CommandError{
		ExitCode:    code,
		CommonError: err.Error(),
		Err:         err,
	}
}
