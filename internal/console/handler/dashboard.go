package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/xela07ax/attackmap/internal/console/service"
	"github.com/xela07ax/attackmap/internal/domain"
	"github.com/xela07ax/attackmap/internal/engine"
	"github.com/xela07ax/attackmap/internal/selection"
	"go.uber.org/zap"
)

// DefaultWidth используется, если клиент не сообщил ширину.
const DefaultWidth = 1024

// DashboardService Описываем, что нам нужно от сервиса
type DashboardService interface {
	Logs() domain.ListView
	Map() domain.MapView
	Charts(ctx context.Context, width int) domain.ChartsView
	Frame(ctx context.Context, width int) domain.DashboardFrame
	Status() domain.LiveStatus
	Selection() (selection.State, int)
	Select(ctx context.Context, id string, source selection.Source) (selection.State, error)
	Clear(ctx context.Context, source selection.Source) (selection.State, error)
}

var _ DashboardService = (*service.DashboardService)(nil)

type DashboardHandler struct {
	service DashboardService
	logger  *zap.Logger
}

func NewDashboardHandler(s DashboardService, logger *zap.Logger) *DashboardHandler {
	return &DashboardHandler{service: s, logger: logger.Named("dashboard-handler")}
}

func (h *DashboardHandler) GetLogs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.Logs())
}

func (h *DashboardHandler) GetMap(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.Map())
}

func (h *DashboardHandler) GetCharts(w http.ResponseWriter, r *http.Request) {
	width, ok := parseWidth(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.service.Charts(r.Context(), width))
}

func (h *DashboardHandler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	width, ok := parseWidth(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.service.Frame(r.Context(), width))
}

func (h *DashboardHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.Status())
}

type selectionResponse struct {
	ID    string `json:"id,omitempty"`
	Index int    `json:"index"` // Позиция в окне на момент ответа, -1 если нет
}

type selectRequest struct {
	ID     string `json:"id"`
	Source string `json:"source"` // list, map; по умолчанию api
}

func (h *DashboardHandler) GetSelection(w http.ResponseWriter, r *http.Request) {
	sel, idx := h.service.Selection()
	writeJSON(w, http.StatusOK, selectionResponse{ID: sel.ID, Index: idx})
}

func (h *DashboardHandler) PostSelection(w http.ResponseWriter, r *http.Request) {
	var req selectRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ID == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}
	source, ok := parseSource(req.Source)
	if !ok {
		writeError(w, http.StatusBadRequest, "source must be list, map or api")
		return
	}

	if _, err := h.service.Select(r.Context(), req.ID, source); err != nil {
		h.commandFailed(w, r, "select", err)
		return
	}
	h.GetSelection(w, r)
}

func (h *DashboardHandler) DeleteSelection(w http.ResponseWriter, r *http.Request) {
	if _, err := h.service.Clear(r.Context(), selection.SourceAPI); err != nil {
		h.commandFailed(w, r, "clear", err)
		return
	}
	h.GetSelection(w, r)
}

func (h *DashboardHandler) commandFailed(w http.ResponseWriter, r *http.Request, op string, err error) {
	if errors.Is(err, engine.ErrStopped) {
		writeError(w, http.StatusServiceUnavailable, "dashboard is shutting down")
		return
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		writeError(w, http.StatusGatewayTimeout, "request cancelled")
		return
	}
	engine.WithTrace(r.Context(), h.logger).Error("selection command failed", zap.String("op", op), zap.Error(err))
	writeError(w, http.StatusInternalServerError, "selection failed")
}

func parseSource(s string) (selection.Source, bool) {
	switch selection.Source(s) {
	case "", selection.SourceAPI:
		return selection.SourceAPI, true
	case selection.SourceList:
		return selection.SourceList, true
	case selection.SourceMap:
		return selection.SourceMap, true
	default:
		return "", false
	}
}

func parseWidth(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("width")
	if raw == "" {
		return DefaultWidth, true
	}
	width, err := strconv.Atoi(raw)
	if err != nil || width <= 0 {
		writeError(w, http.StatusBadRequest, "width must be a positive integer")
		return 0, false
	}
	return width, true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
