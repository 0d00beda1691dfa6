package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"transvisor/internal/los"
	"transvisor/internal/view"
)

type LOSHandler struct {
	panel    *view.Panel
	validate *validator.Validate
	logger   *slog.Logger
}

func NewLOSHandler(panel *view.Panel, logger *slog.Logger) *LOSHandler {
	return &LOSHandler{
		panel:    panel,
		validate: validator.New(),
		logger:   logger.With("handler", "los"),
	}
}

type LOSResponse struct {
	Window view.WindowState   `json:"window"`
	Legend []view.LegendEntry `json:"legend"`
}

func (h *LOSHandler) GetLOS(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, LOSResponse{
		Window: h.panel.WindowState(),
		Legend: h.panel.Legend(),
	})
}

// LOSRequest holds the window bounds in whole hours since midnight.
type LOSRequest struct {
	Start *int `json:"los_start" validate:"omitempty,gte=0,lte=48"`
	End   *int `json:"los_end" validate:"omitempty,gte=0,lte=48"`
}

func (req LOSRequest) window() los.Window {
	start, end := 7, 9
	if req.Start != nil {
		start = *req.Start
	}
	if req.End != nil {
		end = *req.End
	}
	return los.WindowFromHours(start, end)
}

// SetLOS reclassifies every route over the requested window. Missing bounds
// default to 7 and 9. A window that does not end after it starts is refused
// and the current grades stay.
func (h *LOSHandler) SetLOS(w http.ResponseWriter, r *http.Request) {
	req, err := decodeLOSRequest(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid window: "+err.Error())
		return
	}

	if err := h.panel.Reclassify(req.window()); err != nil {
		if errors.Is(err, los.ErrInvalidWindow) {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, LOSResponse{
		Window: h.panel.WindowState(),
		Legend: h.panel.Legend(),
	})
}

func decodeLOSRequest(r *http.Request) (LOSRequest, error) {
	var req LOSRequest

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return req, errors.New("invalid JSON body")
		}
		return req, nil
	}

	if err := r.ParseForm(); err != nil {
		return req, errors.New("invalid form body")
	}
	var err error
	if req.Start, err = formHour(r, "los_start"); err != nil {
		return req, err
	}
	if req.End, err = formHour(r, "los_end"); err != nil {
		return req, err
	}
	return req, nil
}

func formHour(r *http.Request, key string) (*int, error) {
	v := r.Form.Get(key)
	if v == "" {
		return nil, nil
	}
	h, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return nil, errors.New("invalid " + key + ": want whole hours")
	}
	return &h, nil
}
