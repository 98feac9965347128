// Package probe runs connectivity checks against the host directory and
// reports progress as status messages on the event bus.
package probe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hostping/hostping/internal/eventbus"
	"github.com/hostping/hostping/internal/hosts"
	"github.com/hostping/hostping/internal/metrics"
)

// Default stage deadlines
const (
	DefaultConnectTimeout   = 3 * time.Second
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultAuthTimeout      = 10 * time.Second
)

// Publisher receives status messages. *eventbus.Bus implements it.
type Publisher interface {
	Publish(msg eventbus.Message) error
}

// Dialer opens the transport connection to a host. *net.Dialer implements it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Authenticator performs the session handshake and credential login over an
// established connection. It reports authenticated=false without an error when
// the session completes but the peer did not grant access.
//
// Implementations return ErrBadCredentials, ErrSessionRejected or a
// *TimeoutError (wrapped or not) for recoverable failures; any other error
// aborts the run.
type Authenticator interface {
	Authenticate(ctx context.Context, conn net.Conn, host hosts.Host) (authenticated bool, err error)
}

// Options configures stage deadlines.
type Options struct {
	ConnectTimeout   time.Duration
	HandshakeTimeout time.Duration
	AuthTimeout      time.Duration
}

func (o *Options) applyDefaults() {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if o.AuthTimeout <= 0 {
		o.AuthTimeout = DefaultAuthTimeout
	}
}

// Option customises a Prober.
type Option func(*Prober)

// WithDialer replaces the TCP dialer.
func WithDialer(d Dialer) Option {
	return func(p *Prober) { p.dialer = d }
}

// WithAuthenticator registers a as the Authenticator for hosts using protocol.
func WithAuthenticator(protocol string, a Authenticator) Option {
	return func(p *Prober) { p.authenticators[protocol] = a }
}

// Prober checks hosts one at a time. At most one run is active per Prober;
// every message of a run carries the run's id.
type Prober struct {
	dialer         Dialer
	authenticators map[string]Authenticator
	opts           Options
	logger         *slog.Logger

	running atomic.Bool
}

// NewProber creates a Prober with SSH and WinRM authenticators.
func NewProber(opts Options, logger *slog.Logger, options ...Option) *Prober {
	opts.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	p := &Prober{
		dialer: &net.Dialer{},
		authenticators: map[string]Authenticator{
			hosts.ProtocolSSH:   NewSSHAuthenticator(opts.HandshakeTimeout, opts.AuthTimeout),
			hosts.ProtocolWinRM: NewWinRMAuthenticator(opts.HandshakeTimeout + opts.AuthTimeout),
		},
		opts:   opts,
		logger: logger,
	}
	for _, o := range options {
		o(p)
	}
	return p
}

// Running reports whether a run is in progress.
func (p *Prober) Running() bool {
	return p.running.Load()
}

// Run checks every host in order and publishes progress to pub. It returns nil
// once all hosts were attempted. An unclassified fault stops the run and is
// returned as a *FatalError; the remaining hosts are not attempted.
func (p *Prober) Run(ctx context.Context, list []hosts.Host, pub Publisher) error {
	if !p.running.CompareAndSwap(false, true) {
		metrics.ProbeRunsTotal.WithLabelValues(metrics.RunBusy).Inc()
		return ErrRunInProgress
	}
	defer p.running.Store(false)

	runID := uuid.NewString()
	logger := p.logger.With(slog.String("run_id", runID))
	start := time.Now()

	logger.InfoContext(ctx, "Probe run started", slog.Int("hosts", len(list)))

	for i, host := range list {
		if err := p.checkHost(ctx, runID, host, pub); err != nil {
			metrics.ProbeRunsTotal.WithLabelValues(metrics.RunFatal).Inc()
			metrics.ProbeRunDuration.Observe(time.Since(start).Seconds())
			logger.ErrorContext(ctx, "Probe run aborted",
				slog.String("host", host.HostPort()),
				slog.Int("attempted", i+1),
				slog.Int("skipped", len(list)-i-1),
				slog.String("error", err.Error()),
			)
			return err
		}
	}

	metrics.ProbeRunsTotal.WithLabelValues(metrics.RunOK).Inc()
	metrics.ProbeRunDuration.Observe(time.Since(start).Seconds())
	logger.InfoContext(ctx, "Probe run completed",
		slog.Int("hosts", len(list)),
		slog.String("duration", time.Since(start).String()),
	)
	return nil
}

func (p *Prober) checkHost(ctx context.Context, runID string, host hosts.Host, pub Publisher) error {
	addr := host.HostPort()
	emit := func(severity eventbus.Severity, text string) error {
		msg := eventbus.NewMessage(severity, text)
		msg.RunID = runID
		if err := pub.Publish(msg); err != nil {
			return &FatalError{Host: addr, Stage: StagePublish, Err: err}
		}
		return nil
	}
	fail := func(outcome string, err error) error {
		metrics.HostChecksTotal.WithLabelValues(outcome).Inc()
		p.logger.DebugContext(ctx, "Host check failed",
			slog.String("run_id", runID),
			slog.String("host", addr),
			slog.String("outcome", outcome),
			slog.String("error", err.Error()),
		)
		return emit(eventbus.SeverityError, fmt.Sprintf("can't connect to %s: %s", addr, reason(err)))
	}

	if err := emit(eventbus.SeverityInfo, fmt.Sprintf("attempting connection to %s as %s", addr, host.Username)); err != nil {
		return err
	}

	conn, err := p.connect(ctx, host)
	if err != nil {
		if errors.Is(err, ErrTimeout) {
			return fail(metrics.OutcomeTimeout, err)
		}
		metrics.HostChecksTotal.WithLabelValues(metrics.OutcomeFatal).Inc()
		return &FatalError{Host: addr, Stage: StageConnect, Err: err}
	}
	defer conn.Close()

	auth, ok := p.authenticators[host.SessionProtocol()]
	if !ok {
		metrics.HostChecksTotal.WithLabelValues(metrics.OutcomeFatal).Inc()
		return &FatalError{Host: addr, Stage: StageSession, Err: fmt.Errorf("unsupported protocol %q", host.SessionProtocol())}
	}

	authenticated, err := auth.Authenticate(ctx, conn, host)
	switch {
	case err == nil:
	case errors.Is(err, ErrTimeout):
		return fail(metrics.OutcomeTimeout, err)
	case errors.Is(err, ErrBadCredentials):
		return fail(metrics.OutcomeBadCredentials, err)
	case errors.Is(err, ErrSessionRejected):
		return fail(metrics.OutcomeRejected, err)
	default:
		metrics.HostChecksTotal.WithLabelValues(metrics.OutcomeFatal).Inc()
		return &FatalError{Host: addr, Stage: StageSession, Err: err}
	}

	if !authenticated {
		metrics.HostChecksTotal.WithLabelValues(metrics.OutcomeNotAuthenticated).Inc()
		return emit(eventbus.SeverityError, fmt.Sprintf("%s failed to connect", addr))
	}

	metrics.HostChecksTotal.WithLabelValues(metrics.OutcomeSuccess).Inc()
	return emit(eventbus.SeveritySuccess, fmt.Sprintf("%s connected successfully", addr))
}

// connect dials the host with the connect deadline. Expiry of that deadline is
// reported as a *TimeoutError; cancellation of ctx itself is not.
func (p *Prober) connect(ctx context.Context, host hosts.Host) (net.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, p.opts.ConnectTimeout)
	defer cancel()

	conn, err := p.dialer.DialContext(dialCtx, "tcp", host.HostPort())
	if err != nil {
		if ctx.Err() == nil && isTimeout(err) {
			return nil, &TimeoutError{Stage: StageConnect, After: p.opts.ConnectTimeout}
		}
		return nil, err
	}
	return conn, nil
}
