package probe

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hostping/hostping/internal/hosts"
	"golang.org/x/crypto/ssh"
)

// SSHAuthenticator logs in with the host's password over an SSH session.
// Key exchange and authentication each run under their own deadline.
type SSHAuthenticator struct {
	handshakeTimeout time.Duration
	authTimeout      time.Duration
}

// NewSSHAuthenticator creates an SSHAuthenticator.
func NewSSHAuthenticator(handshakeTimeout, authTimeout time.Duration) *SSHAuthenticator {
	return &SSHAuthenticator{
		handshakeTimeout: handshakeTimeout,
		authTimeout:      authTimeout,
	}
}

// Authenticate implements Authenticator.
func (a *SSHAuthenticator) Authenticate(ctx context.Context, conn net.Conn, host hosts.Host) (bool, error) {
	var (
		kexDone       atomic.Bool
		passwordTried atomic.Bool
	)

	if err := conn.SetDeadline(time.Now().Add(a.handshakeTimeout)); err != nil {
		return false, fmt.Errorf("set handshake deadline: %w", err)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	defer stop()

	config := &ssh.ClientConfig{
		User: host.Username,
		Auth: []ssh.AuthMethod{
			ssh.PasswordCallback(func() (string, error) {
				passwordTried.Store(true)
				return host.Credential, nil
			}),
			ssh.KeyboardInteractive(func(name, instruction string, questions []string, echos []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = host.Credential
				}
				if len(questions) > 0 {
					passwordTried.Store(true)
				}
				return answers, nil
			}),
		},
		// Only reachability and login are checked; the key is not pinned.
		HostKeyCallback: func(hostname string, remote net.Addr, key ssh.PublicKey) error {
			kexDone.Store(true)
			return conn.SetDeadline(time.Now().Add(a.authTimeout))
		},
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, host.HostPort(), config)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, a.classify(err, kexDone.Load(), passwordTried.Load())
	}

	client := ssh.NewClient(sshConn, chans, reqs)
	_ = client.Close()
	return true, nil
}

// classify maps an x/crypto/ssh error onto the probe taxonomy.
func (a *SSHAuthenticator) classify(err error, kexDone, passwordTried bool) error {
	if isTimeout(err) {
		if !kexDone {
			return &TimeoutError{Stage: StageHandshake, After: a.handshakeTimeout}
		}
		return &TimeoutError{Stage: StageAuth, After: a.authTimeout}
	}

	if !kexDone {
		return fmt.Errorf("ssh handshake: %w", err)
	}

	if strings.Contains(err.Error(), "unable to authenticate") && passwordTried {
		return fmt.Errorf("%w: %v", ErrBadCredentials, err)
	}
	return fmt.Errorf("%w: %v", ErrSessionRejected, err)
}
