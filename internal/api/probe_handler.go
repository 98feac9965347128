package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/hostping/hostping/internal/hosts"
	"github.com/hostping/hostping/internal/probe"
)

// Runner executes a probe run. *probe.Prober implements it.
type Runner interface {
	Run(ctx context.Context, list []hosts.Host, pub probe.Publisher) error
}

// HeartbeatSettings configures the /api/check variant.
type HeartbeatSettings struct {
	Interval time.Duration
	Count    int
}

// ProbeHandler triggers probe runs. Per-host results go to the event stream;
// responses only carry the overall outcome.
type ProbeHandler struct {
	directory hosts.Directory
	runner    Runner
	pub       probe.Publisher
	heartbeat HeartbeatSettings
	logger    *slog.Logger
}

// NewProbeHandler creates a new probe handler
func NewProbeHandler(directory hosts.Directory, runner Runner, pub probe.Publisher, heartbeat HeartbeatSettings, logger *slog.Logger) *ProbeHandler {
	return &ProbeHandler{
		directory: directory,
		runner:    runner,
		pub:       pub,
		heartbeat: heartbeat,
		logger:    logger,
	}
}

// Ping handles POST /api/ping
func (h *ProbeHandler) Ping(w http.ResponseWriter, r *http.Request) {
	list, err := h.directory.Load(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "Failed to load hosts", slog.String("error", err.Error()))
		sendError(w, r, http.StatusInternalServerError, "HOSTS_UNAVAILABLE", "Failed to read host directory", nil)
		return
	}

	// A run takes as long as the directory needs; the server write timeout
	// must not cut the response off.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	// The run outlives a caller that hangs up; listeners still get the full log.
	err = h.runner.Run(context.WithoutCancel(r.Context()), list, h.pub)
	switch {
	case err == nil:
		sendJSON(w, http.StatusOK, struct{}{})
	case errors.Is(err, probe.ErrRunInProgress):
		sendError(w, r, http.StatusConflict, "RUN_IN_PROGRESS", "A probe run is already in progress", nil)
	default:
		h.logger.ErrorContext(r.Context(), "Probe run failed", slog.String("error", err.Error()))
		sendError(w, r, http.StatusInternalServerError, "PROBE_FAILED", "Probe run aborted", nil)
	}
}

// Check handles GET|POST /api/check
func (h *ProbeHandler) Check(w http.ResponseWriter, r *http.Request) {
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})
	err := probe.Heartbeat(r.Context(), h.pub, h.heartbeat.Interval, h.heartbeat.Count)
	if err != nil {
		if r.Context().Err() != nil {
			return
		}
		h.logger.ErrorContext(r.Context(), "Heartbeat failed", slog.String("error", err.Error()))
		sendError(w, r, http.StatusInternalServerError, "CHECK_FAILED", "Heartbeat aborted", nil)
		return
	}
	sendJSON(w, http.StatusOK, struct{}{})
}
