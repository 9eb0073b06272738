package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/subscribely/notifier/internal/db"
	"github.com/subscribely/notifier/internal/schedule"
)

// Trigger is the scheduler surface the API drives.
type Trigger interface {
	RunNow(ctx context.Context) error
	SendWelcome(ctx context.Context, user *db.User, returning bool) error
}

// Reporting is the read side of the delivery audit trail.
type Reporting interface {
	GetUser(ctx context.Context, id uuid.UUID) (*db.User, error)
	ListDeliveryLogsByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*db.DeliveryLog, error)
	ListDeliveryLogs(ctx context.Context, since, until time.Time, limit, offset int) ([]*db.DeliveryLog, error)
	CountDeliveryLogsByKind(ctx context.Context, since, until time.Time) ([]*db.KindCount, error)
	CountDeliveryLogsByTier(ctx context.Context, since, until time.Time) ([]*db.TierCount, error)
}

// WelcomeRequest is the body for POST /v1/notifications/welcome
type WelcomeRequest struct {
	UserID    string `json:"user_id"`
	Returning bool   `json:"returning"`
}

// RunResponse is returned after a manual expiration check
type RunResponse struct {
	Status string `json:"status"`
}

// StatsResponse aggregates the audit trail for reporting
type StatsResponse struct {
	Since  time.Time       `json:"since"`
	Until  time.Time       `json:"until"`
	ByKind []*db.KindCount `json:"by_kind"`
	ByTier []*db.TierCount `json:"by_tier"`
}

// ErrorResponse represents an error in problem+json format
type ErrorResponse struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Handler holds dependencies for API handlers
type Handler struct {
	logger    *zap.Logger
	trigger   Trigger
	reporting Reporting
}

// NewHandler creates a new API handler
func NewHandler(logger *zap.Logger, trigger Trigger, reporting Reporting) *Handler {
	return &Handler{
		logger:    logger,
		trigger:   trigger,
		reporting: reporting,
	}
}

// TriggerCheck handles POST /v1/reminders/run. It returns once the run
// completes, 409 while another run is in flight, and 500 when the run
// aborted because the datastore could not be enumerated.
func (h *Handler) TriggerCheck(w http.ResponseWriter, r *http.Request) {
	err := h.trigger.RunNow(r.Context())
	if err != nil {
		if errors.Is(err, schedule.ErrRunInProgress) {
			h.writeError(w, http.StatusConflict, "run_in_progress",
				"An expiration check is already running", "")
			return
		}
		h.logger.Error("manual expiration check failed", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "run_failed",
			"Expiration check aborted", err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, RunResponse{Status: "completed"})
}

// SendWelcome handles POST /v1/notifications/welcome
func (h *Handler) SendWelcome(w http.ResponseWriter, r *http.Request) {
	var req WelcomeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid user_id", "user_id must be a valid UUID")
		return
	}

	user, err := h.reporting.GetUser(r.Context(), userID)
	if err != nil {
		h.writeError(w, http.StatusNotFound, "not_found", "User not found", err.Error())
		return
	}

	if err := h.trigger.SendWelcome(r.Context(), user, req.Returning); err != nil {
		h.logger.Error("welcome notification failed", zap.Error(err),
			zap.String("user_id", req.UserID))
		h.writeError(w, http.StatusInternalServerError, "send_failed",
			"Failed to process welcome notification", err.Error())
		return
	}

	h.writeJSON(w, http.StatusAccepted, RunResponse{Status: "accepted"})
}

// ListDeliveryLogs handles GET /v1/delivery-logs
func (h *Handler) ListDeliveryLogs(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r)
	since, until, err := parseTimeRange(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid time range", err.Error())
		return
	}

	var logs []*db.DeliveryLog
	if rawUser := r.URL.Query().Get("user_id"); rawUser != "" {
		userID, err := uuid.Parse(rawUser)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid user_id", "user_id must be a valid UUID")
			return
		}
		logs, err = h.reporting.ListDeliveryLogsByUser(r.Context(), userID, limit, offset)
		if err != nil {
			h.logger.Error("failed to list delivery logs", zap.Error(err))
			h.writeError(w, http.StatusInternalServerError, "internal_error", "Failed to list delivery logs", "")
			return
		}
	} else {
		logs, err = h.reporting.ListDeliveryLogs(r.Context(), since, until, limit, offset)
		if err != nil {
			h.logger.Error("failed to list delivery logs", zap.Error(err))
			h.writeError(w, http.StatusInternalServerError, "internal_error", "Failed to list delivery logs", "")
			return
		}
	}

	if logs == nil {
		logs = []*db.DeliveryLog{}
	}
	h.writeJSON(w, http.StatusOK, logs)
}

// DeliveryLogStats handles GET /v1/delivery-logs/stats
func (h *Handler) DeliveryLogStats(w http.ResponseWriter, r *http.Request) {
	since, until, err := parseTimeRange(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid time range", err.Error())
		return
	}

	byKind, err := h.reporting.CountDeliveryLogsByKind(r.Context(), since, until)
	if err != nil {
		h.logger.Error("failed to aggregate delivery logs", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Failed to aggregate delivery logs", "")
		return
	}

	byTier, err := h.reporting.CountDeliveryLogsByTier(r.Context(), since, until)
	if err != nil {
		h.logger.Error("failed to aggregate delivery logs", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Failed to aggregate delivery logs", "")
		return
	}

	if byKind == nil {
		byKind = []*db.KindCount{}
	}
	if byTier == nil {
		byTier = []*db.TierCount{}
	}

	h.writeJSON(w, http.StatusOK, StatsResponse{
		Since:  since,
		Until:  until,
		ByKind: byKind,
		ByTier: byTier,
	})
}

func parsePagination(r *http.Request) (limit, offset int) {
	limit = 50
	offset = 0

	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}

func parseTimeRange(r *http.Request) (since, until time.Time, err error) {
	// Default window: the last 30 days.
	until = time.Now()
	since = until.AddDate(0, 0, -30)

	if raw := r.URL.Query().Get("since"); raw != "" {
		since, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			return since, until, errors.New("since must be RFC 3339")
		}
	}
	if raw := r.URL.Query().Get("until"); raw != "" {
		until, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			return since, until, errors.New("until must be RFC 3339")
		}
	}
	return since, until, nil
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, errType, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Type:   errType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}
