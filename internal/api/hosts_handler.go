package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/hostping/hostping/internal/hosts"
)

// HostsHandler exposes the host directory.
type HostsHandler struct {
	store  hosts.Store
	logger *slog.Logger
}

// NewHostsHandler creates a new hosts handler
func NewHostsHandler(store hosts.Store, logger *slog.Logger) *HostsHandler {
	return &HostsHandler{store: store, logger: logger}
}

// List handles GET /api/hosts
func (h *HostsHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.store.Load(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "Failed to load hosts", slog.String("error", err.Error()))
		sendError(w, r, http.StatusInternalServerError, "HOSTS_UNAVAILABLE", "Failed to read host directory", nil)
		return
	}
	if list == nil {
		list = []hosts.Host{}
	}
	sendJSON(w, http.StatusOK, list)
}

// Replace handles POST /api/hosts. The submitted list replaces the directory.
func (h *HostsHandler) Replace(w http.ResponseWriter, r *http.Request) {
	input, ok := decodeJSON[[]hosts.Host](w, r)
	if !ok {
		return
	}

	if err := hosts.Validate(input); err != nil {
		var verrs *hosts.ValidationErrors
		if errors.As(err, &verrs) {
			sendError(w, r, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Invalid host records", verrs.Errors)
			return
		}
		sendError(w, r, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
		return
	}

	if err := h.store.Save(r.Context(), input); err != nil {
		h.logger.ErrorContext(r.Context(), "Failed to save hosts", slog.String("error", err.Error()))
		sendError(w, r, http.StatusInternalServerError, "HOSTS_UNAVAILABLE", "Failed to write host directory", nil)
		return
	}

	h.logger.InfoContext(r.Context(), "Host directory replaced", slog.Int("hosts", len(input)))

	saved, err := h.store.Load(r.Context())
	if err != nil {
		saved = input
	}
	if saved == nil {
		saved = []hosts.Host{}
	}
	sendJSON(w, http.StatusOK, saved)
}
