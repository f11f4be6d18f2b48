package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/betchain/settlementd/internal/domain"
)

// EventService defines the methods the event handler requires from the
// service layer. It is declared locally so the handler package does not
// depend on the concrete service implementation.
type EventService interface {
	Create(ctx context.Context, ev domain.Event) (domain.MergedEvent, error)
	Get(ctx context.Context, id int64) (domain.MergedEvent, error)
	List(ctx context.Context, opts domain.ListOpts) ([]domain.MergedEvent, error)
	ListByCategory(ctx context.Context, category string, opts domain.ListOpts) ([]domain.MergedEvent, error)
	Count(ctx context.Context) (int64, error)
	Resolve(ctx context.Context, id int64, winningOutcomeID string) (domain.MergedEvent, error)
	ResolveByOption(ctx context.Context, id int64, option int) (domain.MergedEvent, error)
	Delete(ctx context.Context, id int64) (domain.DeleteCounts, error)
}

// EventHandler serves event-related HTTP endpoints.
type EventHandler struct {
	events EventService
	logger *slog.Logger
}

// NewEventHandler creates an EventHandler with the given service and logger.
func NewEventHandler(events EventService, logger *slog.Logger) *EventHandler {
	return &EventHandler{
		events: events,
		logger: logger,
	}
}

// createEventRequest is the body for registering event metadata. Outcomes
// are listed in ledger option order; positions are assigned from the list
// index.
type createEventRequest struct {
	ID              int64  `json:"id"`
	Title           string `json:"title"`
	Description     string `json:"description"`
	LongDescription string `json:"longDescription"`
	Category        string `json:"category"`
	Outcomes        []struct {
		Name string `json:"name"`
	} `json:"outcomes"`
}

// CreateEvent registers metadata for an event that already exists on the
// ledger.
// POST /api/events
func (h *EventHandler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var req createEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ID <= 0 {
		writeError(w, http.StatusBadRequest, "id must be a positive ledger event id")
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		writeError(w, http.StatusBadRequest, "title must not be empty")
		return
	}
	if len(req.Outcomes) < 2 {
		writeError(w, http.StatusBadRequest, "an event needs at least two outcomes")
		return
	}

	ev := domain.Event{
		ID:              req.ID,
		Title:           req.Title,
		Description:     req.Description,
		LongDescription: req.LongDescription,
		Category:        req.Category,
	}
	for i, o := range req.Outcomes {
		if strings.TrimSpace(o.Name) == "" {
			writeError(w, http.StatusBadRequest, "outcome names must not be empty")
			return
		}
		ev.Outcomes = append(ev.Outcomes, domain.Outcome{
			EventID:  req.ID,
			Name:     o.Name,
			Position: i,
		})
	}

	merged, err := h.events.Create(r.Context(), ev)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: create event failed",
			slog.Int64("event_id", req.ID),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err, "failed to create event")
		return
	}

	writeJSON(w, http.StatusCreated, merged)
}

// listEventsResponse wraps the list endpoint output with metadata.
type listEventsResponse struct {
	Events []domain.MergedEvent `json:"events"`
	Total  int64                `json:"total"`
	Limit  int                  `json:"limit"`
	Offset int                  `json:"offset"`
}

// ListEvents returns merged event views with pagination.
// GET /api/events?limit=50&offset=0
func (h *EventHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	events, err := h.events.List(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list events failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}

	total, err := h.events.Count(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: count events failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to count events")
		return
	}

	writeJSON(w, http.StatusOK, listEventsResponse{
		Events: events,
		Total:  total,
		Limit:  opts.Limit,
		Offset: opts.Offset,
	})
}

// ListEventsByCategory returns merged event views for one category.
// GET /api/events/category/{category}
func (h *EventHandler) ListEventsByCategory(w http.ResponseWriter, r *http.Request) {
	category := pathParam(r, "category")
	if category == "" {
		writeError(w, http.StatusBadRequest, "missing category")
		return
	}
	opts := parseListOpts(r)

	events, err := h.events.ListByCategory(r.Context(), category, opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list events by category failed",
			slog.String("category", category),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}

	writeJSON(w, http.StatusOK, listEventsResponse{
		Events: events,
		Total:  int64(len(events)),
		Limit:  opts.Limit,
		Offset: opts.Offset,
	})
}

// GetEvent returns the merged view of a single event.
// GET /api/events/{id}
func (h *EventHandler) GetEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid event id")
		return
	}

	merged, err := h.events.Get(r.Context(), id)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: get event failed",
			slog.Int64("event_id", id),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err, "failed to get event")
		return
	}

	writeJSON(w, http.StatusOK, merged)
}

// resolveEventRequest carries the winner, either as the ledger option index
// or as the outcome id.
type resolveEventRequest struct {
	WinningOutcome json.RawMessage `json:"winningOutcome"`
}

// ResolveEvent closes the event with the given winner. Admin only.
// POST /api/events/{id}/resolve
func (h *EventHandler) ResolveEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid event id")
		return
	}

	var req resolveEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.WinningOutcome) == 0 {
		writeError(w, http.StatusBadRequest, "winningOutcome is required")
		return
	}

	var (
		merged domain.MergedEvent
		err    error
	)
	if option, convErr := strconv.Atoi(string(req.WinningOutcome)); convErr == nil {
		merged, err = h.events.ResolveByOption(r.Context(), id, option)
	} else {
		var outcomeID string
		if jsonErr := json.Unmarshal(req.WinningOutcome, &outcomeID); jsonErr != nil || outcomeID == "" {
			writeError(w, http.StatusBadRequest, "winningOutcome must be an option index or an outcome id")
			return
		}
		merged, err = h.events.Resolve(r.Context(), id, outcomeID)
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: resolve event failed",
			slog.Int64("event_id", id),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err, "failed to resolve event")
		return
	}

	writeJSON(w, http.StatusOK, merged)
}

// DeleteEvent removes the event's metadata, outcomes, and mirrored bets.
// Admin only.
// DELETE /api/events/{id}
func (h *EventHandler) DeleteEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid event id")
		return
	}

	counts, err := h.events.Delete(r.Context(), id)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: delete event failed",
			slog.Int64("event_id", id),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err, "failed to delete event")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"deleted": counts,
	})
}
