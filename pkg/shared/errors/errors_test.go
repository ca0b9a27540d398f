package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"analyzer", NewAnalyzerError("security", "a.go", stderrors.New("boom")), KindAnalyzer},
		{"timeout", &TimeoutError{Path: "a.go", Timeout: time.Second}, KindTimeout},
		{"cache wrapped", fmt.Errorf("lookup: %w", &CacheError{Op: "get", Err: stderrors.New("disk")}), KindCache},
		{"inference", &InferenceError{Op: "score", Err: stderrors.New("nan")}, KindInference},
		{"configuration", NewFatalConfigurationError("engine.max_workers", "must be positive"), KindConfiguration},
		{"plain", stderrors.New("plain"), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestIsFatal(t *testing.T) {
	err := fmt.Errorf("engine: %w", NewFatalConfigurationError("cache.shards", "out of range"))
	assert.True(t, IsFatal(err))
	assert.False(t, IsFatal(&CacheError{Op: "put", Err: stderrors.New("x")}))
}

func TestTimeoutUnwrapsToDeadline(t *testing.T) {
	err := &TimeoutError{Path: "slow.go", Timeout: 50 * time.Millisecond}
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "slow.go")
}

func TestCommandErrorUnwrap(t *testing.T) {
	inner := NewFatalConfigurationError("", "bad")
	cmdErr := NewCommandError(inner, ExitFailure)
	assert.Equal(t, ExitFailure, cmdErr.ExitCode)
	assert.True(t, IsFatal(cmdErr))
	assert.Equal(t, inner.Error(), cmdErr.Error())
}
