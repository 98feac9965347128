package probe

import (
	"context"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/hostping/hostping/internal/hosts"
	"github.com/masterzen/winrm"
)

// unauthorizedStatus matches the status part of the library's HTTP errors,
// e.g. "http response error: 401 - ..." or "http error 401: ...".
var unauthorizedStatus = regexp.MustCompile(`http (?:response )?error:? 401\b`)

// WinRMAuthenticator validates a login by opening and closing a remote shell
// over plain-HTTP WinRM with Basic auth. The dialled connection only proves
// reachability: it is closed before the WinRM client opens its own.
type WinRMAuthenticator struct {
	timeout time.Duration
}

// NewWinRMAuthenticator creates a WinRMAuthenticator bounded by timeout.
func NewWinRMAuthenticator(timeout time.Duration) *WinRMAuthenticator {
	return &WinRMAuthenticator{timeout: timeout}
}

type shellResult struct {
	shell *winrm.Shell
	err   error
}

// Authenticate implements Authenticator.
func (a *WinRMAuthenticator) Authenticate(ctx context.Context, conn net.Conn, host hosts.Host) (bool, error) {
	if conn != nil {
		_ = conn.Close()
	}

	port, err := strconv.Atoi(host.Port)
	if err != nil {
		return false, fmt.Errorf("invalid port %q: %w", host.Port, err)
	}

	endpoint := winrm.NewEndpoint(
		host.Address,
		port,
		false, // https
		true,  // insecure
		nil,   // CA certificate
		nil,   // client certificate
		nil,   // client key
		a.timeout,
	)
	client, err := winrm.NewClient(endpoint, host.Username, host.Credential)
	if err != nil {
		return false, fmt.Errorf("create winrm client: %w", err)
	}

	done := make(chan shellResult, 1)
	go func() {
		shell, err := client.CreateShell()
		if err == nil && ctx.Err() != nil {
			_ = shell.Close()
		}
		done <- shellResult{shell: shell, err: err}
	}()

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case res := <-done:
		if res.err != nil {
			return false, a.classify(res.err)
		}
		_ = res.shell.Close()
		return true, nil
	}
}

// classify maps a winrm error onto the probe taxonomy. The library reports
// HTTP failures as formatted strings.
func (a *WinRMAuthenticator) classify(err error) error {
	if isTimeout(err) {
		return &TimeoutError{Stage: StageSession, After: a.timeout}
	}

	msg := err.Error()
	if unauthorizedStatus.MatchString(msg) {
		return fmt.Errorf("%w: %v", ErrBadCredentials, err)
	}
	if strings.Contains(msg, "http error") || strings.Contains(msg, "http response error") {
		return fmt.Errorf("%w: %v", ErrSessionRejected, err)
	}
	return fmt.Errorf("winrm handshake: %w", err)
}
