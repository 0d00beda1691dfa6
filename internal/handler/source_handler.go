package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-playground/validator/v10"

	"transvisor/internal/config"
)

type SourceLoader interface {
	Load(ctx context.Context, src config.Source) ([]int, error)
}

type SourceHandler struct {
	ctx          context.Context
	loader       SourceLoader
	allowedHosts map[string]bool
	validate     *validator.Validate
	logger       *slog.Logger
}

// NewSourceHandler runs loads under ctx rather than the request context, so
// they outlive the request that started them. When allowedHosts is empty any
// public host may be named.
func NewSourceHandler(ctx context.Context, loader SourceLoader, allowedHosts []string, logger *slog.Logger) *SourceHandler {
	hosts := make(map[string]bool, len(allowedHosts))
	for _, h := range allowedHosts {
		hosts[strings.ToLower(h)] = true
	}
	return &SourceHandler{
		ctx:          ctx,
		loader:       loader,
		allowedHosts: hosts,
		validate:     validator.New(),
		logger:       logger.With("handler", "sources"),
	}
}

// SourceRequest is a client-supplied source. Unlike configured sources it
// must be an http(s) URL; local paths are only loaded from config.
type SourceRequest struct {
	ID   string `json:"id" validate:"required,http_url"`
	Kind string `json:"kind" validate:"omitempty,oneof=geojson gtfs"`
}

type SourceAccepted struct {
	ID     string `json:"id"`
	Kind   string `json:"kind"`
	Status string `json:"status"`
}

// AddSource queues a source for loading and returns immediately.
func (h *SourceHandler) AddSource(w http.ResponseWriter, r *http.Request) {
	var req SourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid source: "+err.Error())
		return
	}

	u, err := url.Parse(req.ID)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid source URL")
		return
	}
	if !h.hostAllowed(u.Hostname()) {
		h.logger.Warn("refused source host", "source", req.ID, "ip", r.RemoteAddr)
		respondError(w, http.StatusForbidden, "source host not allowed")
		return
	}

	src := config.Source{ID: req.ID, Kind: req.Kind}
	go func() {
		if _, err := h.loader.Load(h.ctx, src); err != nil {
			h.logger.Error("failed to load source", "source", src.ID, "error", err)
		}
	}()

	respondJSON(w, http.StatusAccepted, SourceAccepted{
		ID:     src.ID,
		Kind:   src.ResolvedKind(),
		Status: "loading",
	})
}

func (h *SourceHandler) hostAllowed(host string) bool {
	host = strings.ToLower(host)
	if len(h.allowedHosts) > 0 {
		return h.allowedHosts[host]
	}
	if host == "" || host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return false
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return true
	}
	return !(ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast())
}
