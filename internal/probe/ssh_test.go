package probe

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/hostping/hostping/internal/eventbus"
	"github.com/hostping/hostping/internal/hosts"
	"golang.org/x/crypto/ssh"
)

// startSSHServer runs a minimal SSH server on loopback and returns its address.
func startSSHServer(t *testing.T, config *ssh.ServerConfig) string {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate host key: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("host key signer: %v", err)
	}
	config.AddHostKey(signer)

	return serve(t, func(c net.Conn) {
		sconn, chans, reqs, err := ssh.NewServerConn(c, config)
		if err != nil {
			return
		}
		defer sconn.Close()
		go ssh.DiscardRequests(reqs)
		for ch := range chans {
			_ = ch.Reject(ssh.Prohibited, "no channels")
		}
	})
}

// serve accepts loopback connections and hands each to handle.
func serve(t *testing.T, handle func(net.Conn)) string {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { l.Close() })

	go func() {
		for {
			c, err := l.Accept()
			if err != nil {
				return
			}
			go func() {
				defer c.Close()
				handle(c)
			}()
		}
	}()
	return l.Addr().String()
}

func passwordServer(user, password string) *ssh.ServerConfig {
	return &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if c.User() == user && string(pass) == password {
				return nil, nil
			}
			return nil, fmt.Errorf("password rejected for %q", c.User())
		},
	}
}

// routedDialer sends every address to target so messages keep the host's own address.
type routedDialer struct {
	target string
}

func (d routedDialer) DialContext(ctx context.Context, network, _ string) (net.Conn, error) {
	var nd net.Dialer
	return nd.DialContext(ctx, network, d.target)
}

func splitHostPort(t *testing.T, addr string) hosts.Host {
	t.Helper()
	h, p, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatal(err)
	}
	return hosts.Host{Address: h, Port: p, Username: "root", Credential: "secret"}
}

func TestSSHAuthenticator_Success(t *testing.T) {
	addr := startSSHServer(t, passwordServer("root", "secret"))
	h := splitHostPort(t, addr)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	ok, err := NewSSHAuthenticator(2*time.Second, 2*time.Second).Authenticate(context.Background(), conn, h)
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if !ok {
		t.Error("expected authenticated session")
	}
}

func TestSSHAuthenticator_BadCredentials(t *testing.T) {
	addr := startSSHServer(t, passwordServer("root", "secret"))
	h := splitHostPort(t, addr)
	h.Credential = "wrong"

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	_, err = NewSSHAuthenticator(2*time.Second, 2*time.Second).Authenticate(context.Background(), conn, h)
	if !errors.Is(err, ErrBadCredentials) {
		t.Fatalf("expected ErrBadCredentials, got %v", err)
	}
}

func TestSSHAuthenticator_NoPasswordMethod(t *testing.T) {
	addr := startSSHServer(t, &ssh.ServerConfig{
		PublicKeyCallback: func(ssh.ConnMetadata, ssh.PublicKey) (*ssh.Permissions, error) {
			return nil, errors.New("denied")
		},
	})

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	_, err = NewSSHAuthenticator(2*time.Second, 2*time.Second).Authenticate(context.Background(), conn, splitHostPort(t, addr))
	if !errors.Is(err, ErrSessionRejected) {
		t.Fatalf("expected ErrSessionRejected, got %v", err)
	}
}

func TestSSHAuthenticator_SilentPeerTimesOut(t *testing.T) {
	addr := serve(t, func(c net.Conn) {
		_, _ = io.Copy(io.Discard, c)
	})

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	_, err = NewSSHAuthenticator(200*time.Millisecond, time.Second).Authenticate(context.Background(), conn, splitHostPort(t, addr))
	var te *TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("expected *TimeoutError, got %v", err)
	}
	if te.Stage != StageHandshake {
		t.Errorf("expected handshake stage, got %s", te.Stage)
	}
}

func TestSSHAuthenticator_NonSSHPeerIsUnclassified(t *testing.T) {
	addr := serve(t, func(c net.Conn) {
		_, _ = io.WriteString(c, "HTTP/1.1 400 Bad Request\r\n\r\n")
	})

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	_, err = NewSSHAuthenticator(2*time.Second, 2*time.Second).Authenticate(context.Background(), conn, splitHostPort(t, addr))
	if err == nil {
		t.Fatal("expected an error")
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, ErrBadCredentials) || errors.Is(err, ErrSessionRejected) {
		t.Errorf("expected an unclassified error, got %v", err)
	}
}

func TestProber_SSHEndToEnd(t *testing.T) {
	addr := startSSHServer(t, passwordServer("root", "secret"))
	rec := &recorder{}
	p := NewProber(Options{}, nil, WithDialer(routedDialer{target: addr}))

	list := []hosts.Host{
		{Address: "10.0.0.5", Port: "22", Username: "root", Credential: "wrong"},
		{Address: "10.0.0.6", Port: "22", Username: "root", Credential: "secret"},
	}
	if err := p.Run(context.Background(), list, rec); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	msgs := rec.messages()
	want := []struct {
		sev  eventbus.Severity
		text string
	}{
		{eventbus.SeverityInfo, "attempting connection to 10.0.0.5:22 as root"},
		{eventbus.SeverityError, "can't connect to 10.0.0.5:22: bad credentials"},
		{eventbus.SeverityInfo, "attempting connection to 10.0.0.6:22 as root"},
		{eventbus.SeveritySuccess, "10.0.0.6:22 connected successfully"},
	}
	if len(msgs) != len(want) {
		t.Fatalf("expected %d messages, got %d: %v", len(want), len(msgs), msgs)
	}
	for i, w := range want {
		if msgs[i].Type != w.sev || msgs[i].Text != w.text {
			t.Errorf("message %d = [%s] %q, want [%s] %q", i, msgs[i].Type, msgs[i].Text, w.sev, w.text)
		}
	}
}

func TestProber_RefusedConnectionAbortsRun(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	closed := splitHostPort(t, l.Addr().String())
	l.Close()

	live := splitHostPort(t, startSSHServer(t, passwordServer("root", "secret")))
	rec := &recorder{}

	err = NewProber(Options{}, nil).Run(context.Background(), []hosts.Host{closed, live}, rec)
	var fatal *FatalError
	if !errors.As(err, &fatal) || fatal.Stage != StageConnect {
		t.Fatalf("expected connect *FatalError, got %v", err)
	}
	for _, m := range rec.messages() {
		if strings.Contains(m.Text, live.HostPort()) {
			t.Errorf("host after the fault was attempted: %q", m.Text)
		}
	}
}
