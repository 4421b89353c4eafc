package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/layercache/internal/protocol"
)

func TestIsNetworkError(t *testing.T) {
	req := protocol.NewGet("Post", "1", 0, 0)

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"no network", ErrNoNetwork, true},
		{"wrapped no network", fmt.Errorf("call: %w", ErrNoNetwork), true},
		{"network error", &NetworkError{Request: req, Err: errors.New("x")}, true},
		{"dial", &net.OpError{Op: "dial", Err: errors.New("refused")}, true},
		{"conn refused", &os.SyscallError{Syscall: "connect", Err: syscall.ECONNREFUSED}, true},
		{"conn reset", syscall.ECONNRESET, true},
		{"host unreachable", syscall.EHOSTUNREACH, true},
		{"truncated", io.ErrUnexpectedEOF, true},
		{"caller deadline", context.DeadlineExceeded, false},
		{"wrapped caller deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), false},
		{"transport deadline", &NetworkError{Request: req, Err: context.DeadlineExceeded}, true},
		{"socket timeout", &net.OpError{Op: "read", Err: os.ErrDeadlineExceeded}, true},
		{"canceled", context.Canceled, false},
		{"plain", errors.New("bad request"), false},
		{"permission", syscall.EACCES, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsNetworkError(tt.err))
		})
	}
}

func TestOfflineError(t *testing.T) {
	get := protocol.NewGet("Post", "p1", protocol.FreshnessRejectStale, 0)
	err := error(newOfflineError(ErrCodeDataNotAvailableOffline, get, ErrNoNetwork))

	assert.True(t, IsDataNotAvailableOffline(err))
	assert.False(t, IsOperationNotAvailableOffline(err))
	assert.True(t, IsOffline(fmt.Errorf("wrapped: %w", err)))
	assert.ErrorIs(t, err, ErrNoNetwork)
	assert.Equal(t, "DATA_NOT_AVAILABLE_OFFLINE: get Post/p1 (status=410): no network", err.Error())

	query := protocol.NewCollection("Post", "recent", nil, 0, 0)
	err = newOfflineError(ErrCodeOperationNotAvailableOffline, query, nil)
	assert.True(t, IsOperationNotAvailableOffline(err))
	assert.Equal(t, "OPERATION_NOT_AVAILABLE_OFFLINE: query Post[recent] (status=410)", err.Error())

	assert.False(t, IsOffline(errors.New("other")))
}
