package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"
)

// Stage names a step of a single host check.
type Stage string

const (
	StageConnect   Stage = "connect"
	StageHandshake Stage = "handshake"
	StageAuth      Stage = "authentication"
	StageSession   Stage = "session"
	StagePublish   Stage = "publish"
)

// Recoverable per-host failures. Authenticators translate library errors into
// these once; everything else they return aborts the run.
var (
	ErrTimeout         = errors.New("timeout")
	ErrBadCredentials  = errors.New("bad credentials")
	ErrSessionRejected = errors.New("unknown error")
)

// ErrRunInProgress is returned by Run while another run is active.
var ErrRunInProgress = errors.New("probe: a run is already in progress")

// TimeoutError is a deadline expiry in one stage. It matches ErrTimeout.
type TimeoutError struct {
	Stage Stage
	After time.Duration
}

func (e *TimeoutError) Error() string {
	if e.Stage == StageConnect {
		return fmt.Sprintf("Timeout after %s", e.After)
	}
	return fmt.Sprintf("Timeout after %s during %s", e.After, e.Stage)
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// FatalError is an unclassified fault that ends the whole run.
type FatalError struct {
	Host  string
	Stage Stage
	Err   error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("probe aborted at %s of %s: %v", e.Stage, e.Host, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// isTimeout reports whether err is an I/O or context deadline expiry.
func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	// some libraries flatten the cause with %v
	msg := err.Error()
	return strings.Contains(msg, "i/o timeout") || strings.Contains(msg, "deadline exceeded")
}

// reason renders a classified failure for a status message.
func reason(err error) string {
	var te *TimeoutError
	switch {
	case errors.As(err, &te):
		return te.Error()
	case errors.Is(err, ErrBadCredentials):
		return ErrBadCredentials.Error()
	default:
		return ErrSessionRejected.Error()
	}
}
