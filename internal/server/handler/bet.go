package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"
	"strings"

	"github.com/betchain/settlementd/internal/domain"
)

// BetService defines the methods the bet handler requires from the service
// layer.
type BetService interface {
	Place(ctx context.Context, eventID int64, user, outcomeID string, amount *big.Int) (domain.Bet, error)
	Claim(ctx context.Context, betID string) (domain.BetView, error)
	ListByUser(ctx context.Context, user string) ([]domain.BetView, error)
	ListByEvent(ctx context.Context, eventID int64) ([]domain.BetView, error)
}

// BetHandler serves bet-related HTTP endpoints.
type BetHandler struct {
	bets   BetService
	logger *slog.Logger
}

// NewBetHandler creates a BetHandler with the given service and logger.
func NewBetHandler(bets BetService, logger *slog.Logger) *BetHandler {
	return &BetHandler{
		bets:   bets,
		logger: logger,
	}
}

// placeBetRequest is the body for staking on an outcome. Amount is a
// decimal wei string so arbitrary precision survives JSON.
type placeBetRequest struct {
	User      string `json:"user"`
	EventID   int64  `json:"eventId"`
	OutcomeID string `json:"outcomeId"`
	Amount    string `json:"amount"`
}

// PlaceBet stakes an amount on one outcome of an open event.
// POST /api/bets
func (h *BetHandler) PlaceBet(w http.ResponseWriter, r *http.Request) {
	var req placeBetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.User) == "" {
		writeError(w, http.StatusBadRequest, "user must not be empty")
		return
	}
	if req.EventID <= 0 {
		writeError(w, http.StatusBadRequest, "eventId must be positive")
		return
	}
	if req.OutcomeID == "" {
		writeError(w, http.StatusBadRequest, "outcomeId must not be empty")
		return
	}
	amount, ok := new(big.Int).SetString(req.Amount, 10)
	if !ok || amount.Sign() <= 0 {
		writeError(w, http.StatusBadRequest, "amount must be a positive decimal wei string")
		return
	}

	bet, err := h.bets.Place(r.Context(), req.EventID, req.User, req.OutcomeID, amount)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: place bet failed",
			slog.Int64("event_id", req.EventID),
			slog.String("user", req.User),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err, "failed to place bet")
		return
	}

	writeJSON(w, http.StatusCreated, bet)
}

// ListUserBets returns the user's bets with win/payout overlay.
// GET /api/bets/user/{userId}
func (h *BetHandler) ListUserBets(w http.ResponseWriter, r *http.Request) {
	user := pathParam(r, "userId")
	if user == "" {
		writeError(w, http.StatusBadRequest, "missing user id")
		return
	}

	views, err := h.bets.ListByUser(r.Context(), user)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list user bets failed",
			slog.String("user", user),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list bets")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"bets": views})
}

// ListEventBets returns every mirrored bet on one event.
// GET /api/bets/{eventId}
func (h *BetHandler) ListEventBets(w http.ResponseWriter, r *http.Request) {
	eventID, ok := pathID(r, "eventId")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid event id")
		return
	}

	views, err := h.bets.ListByEvent(r.Context(), eventID)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list event bets failed",
			slog.Int64("event_id", eventID),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err, "failed to list bets")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"bets": views})
}

// ClaimReward pays out a winning bet.
// POST /api/bets/{betId}/claim
func (h *BetHandler) ClaimReward(w http.ResponseWriter, r *http.Request) {
	betID := pathParam(r, "betId")
	if betID == "" {
		writeError(w, http.StatusBadRequest, "missing bet id")
		return
	}

	view, err := h.bets.Claim(r.Context(), betID)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: claim failed",
			slog.String("bet_id", betID),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err, "failed to claim reward")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Reward claimed successfully",
		"bet":     view,
	})
}
