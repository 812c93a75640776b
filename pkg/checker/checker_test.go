package checker

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"proxy-gateway/pkg/scoring"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected scoring.Status
	}{
		{"net timeout", fmt.Errorf("HTTP request failed: %w", timeoutErr{}), scoring.StatusTimeout},
		{"deadline exceeded", fmt.Errorf("fetch: %w", context.DeadlineExceeded), scoring.StatusTimeout},
		{"connection refused", errors.New("dial tcp: connection refused"), scoring.StatusError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifyError(tt.err); got != tt.expected {
				t.Errorf("classifyError(%v) = %s, want %s", tt.err, got, tt.expected)
			}
		})
	}
}
