package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/swapkeeper/internal/domain"
	"github.com/alanyoungcy/swapkeeper/internal/intake"
)

// PositionReader is the in-memory view of tracked positions.
type PositionReader interface {
	Get(id string) (domain.Position, bool)
	List() []domain.Position
}

// Submitter admits new positions.
type Submitter interface {
	Submit(ctx context.Context, req intake.Request) (domain.Position, error)
}

// PositionHandler serves position endpoints. Any dependency may be nil; the
// matching routes then answer 503.
type PositionHandler struct {
	live   PositionReader
	store  domain.PositionStore
	intake Submitter
	logger *slog.Logger
}

// NewPositionHandler creates a PositionHandler.
func NewPositionHandler(live PositionReader, store domain.PositionStore, in Submitter, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{live: live, store: store, intake: in, logger: logger}
}

type listPositionsResponse struct {
	Positions []domain.Position `json:"positions"`
}

// ListPositions returns tracked positions, optionally filtered by status.
// With history=true it pages through persisted positions instead.
// GET /api/positions?status=open&history=false
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("history") == "true" {
		h.listHistory(w, r)
		return
	}
	if h.live == nil {
		writeError(w, http.StatusServiceUnavailable, "monitor not running")
		return
	}

	status := domain.PositionStatus(q.Get("status"))
	positions := []domain.Position{}
	for _, p := range h.live.List() {
		if status == "" || p.Status == status {
			positions = append(positions, p)
		}
	}
	writeJSON(w, http.StatusOK, listPositionsResponse{Positions: positions})
}

func (h *PositionHandler) listHistory(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusServiceUnavailable, "position store not configured")
		return
	}
	positions, err := h.store.ListHistory(r.Context(), parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list position history failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list positions")
		return
	}
	if positions == nil {
		positions = []domain.Position{}
	}
	writeJSON(w, http.StatusOK, listPositionsResponse{Positions: positions})
}

// GetPosition returns one position, looking in memory first and then in the
// store.
// GET /api/positions/{id}
func (h *PositionHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if h.live != nil {
		if pos, ok := h.live.Get(id); ok {
			writeJSON(w, http.StatusOK, pos)
			return
		}
	}
	if h.store == nil {
		writeError(w, http.StatusNotFound, "position not found")
		return
	}
	pos, err := h.store.GetByID(r.Context(), id)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "position not found")
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: get position failed",
			slog.String("position_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to load position")
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

// admitRequest is the POST body. Omitted thresholds take the configured
// defaults; max_hold is a Go duration string such as "4h". The disable flags
// switch off the trailing stop or time limit outright.
type admitRequest struct {
	ID              string          `json:"id"`
	Symbol          string          `json:"symbol"`
	VenueID         string          `json:"venue_id"`
	QuoteAsset      string          `json:"quote_asset"`
	EntryPrice      decimal.Decimal `json:"entry_price"`
	EntryAmount     decimal.Decimal `json:"entry_amount"`
	TargetProfitPct decimal.Decimal `json:"target_profit_pct"`
	StopLossPct     decimal.Decimal `json:"stop_loss_pct"`
	TrailingStopPct decimal.Decimal `json:"trailing_stop_pct"`
	MaxHold         string          `json:"max_hold"`
	EntryTime       *time.Time      `json:"entry_time"`
	ExpiresAt       *time.Time      `json:"expires_at"`
	Strategy        string          `json:"strategy"`

	DisableTrailingStop bool `json:"disable_trailing_stop"`
	DisableTimeLimit    bool `json:"disable_time_limit"`
}

func (a admitRequest) toIntake() (intake.Request, error) {
	spec := domain.PositionSpec{
		Symbol:          a.Symbol,
		VenueID:         a.VenueID,
		QuoteAsset:      a.QuoteAsset,
		EntryPrice:      a.EntryPrice,
		EntryAmount:     a.EntryAmount,
		TargetProfitPct: a.TargetProfitPct,
		StopLossPct:     a.StopLossPct,
		TrailingStopPct: a.TrailingStopPct,
		Strategy:        a.Strategy,

		DisableTrailingStop: a.DisableTrailingStop,
		DisableTimeLimit:    a.DisableTimeLimit,
	}
	if a.MaxHold != "" {
		d, err := time.ParseDuration(a.MaxHold)
		if err != nil {
			return intake.Request{}, err
		}
		spec.MaxHold = d
	}
	if a.EntryTime != nil {
		spec.EntryTime = *a.EntryTime
	}
	id := a.ID
	if id == "" {
		id = uuid.NewString()
	}
	return intake.Request{ID: id, Source: "api", ExpiresAt: a.ExpiresAt, Position: spec}, nil
}

// AdmitPosition admits a new position.
// POST /api/positions
func (h *PositionHandler) AdmitPosition(w http.ResponseWriter, r *http.Request) {
	if h.intake == nil {
		writeError(w, http.StatusServiceUnavailable, "admission disabled")
		return
	}

	var body admitRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	req, err := body.toIntake()
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid max_hold: "+err.Error())
		return
	}

	pos, err := h.intake.Submit(r.Context(), req)
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, pos)
	case errors.Is(err, intake.ErrDuplicate):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, intake.ErrExpired):
		writeError(w, http.StatusGone, err.Error())
	case errors.Is(err, intake.ErrRiskLimit):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, domain.ErrInvalidPosition):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.ErrorContext(r.Context(), "handler: admit position failed",
			slog.String("request_id", req.ID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to admit position")
	}
}
