// Package handlers provides HTTP handlers for position attachments.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/aristath/attachments/internal/domain"
	"github.com/aristath/attachments/internal/modules/attachments"
	"github.com/aristath/attachments/internal/modules/expansion"
	"github.com/aristath/attachments/internal/modules/mappings"
)

const contentTypeMsgpack = "application/msgpack"

// Handler handles attachment HTTP requests
type Handler struct {
	registry  *attachments.Registry
	expansion *expansion.Store
	log       zerolog.Logger
}

// NewHandler creates a new attachments handler
func NewHandler(registry *attachments.Registry, expansionStore *expansion.Store, log zerolog.Logger) *Handler {
	return &Handler{
		registry:  registry,
		expansion: expansionStore,
		log:       log.With().Str("handler", "attachments").Logger(),
	}
}

type mappingsResponse struct {
	Trades    mappings.AttachmentMap `json:"trades"`
	Positions mappings.AttachmentMap `json:"positions"`
	Orders    mappings.AttachmentMap `json:"orders"`
	Ready     bool                   `json:"ready"`
	Errors    map[string]string      `json:"errors,omitempty"`
}

type saveOrderMappingsRequest struct {
	PositionKey string   `json:"position_key"`
	OrderIDs    []string `json:"order_ids"`
}

type attachedPositionsRequest struct {
	Position     domain.Position `json:"position"`
	AttachedKeys []string        `json:"attached_keys"`
}

type toggleRequest struct {
	PositionKey string `json:"position_key"`
}

// HandleGetMappings returns the three attachment maps and readiness
func (h *Handler) HandleGetMappings(w http.ResponseWriter, r *http.Request) {
	s, ok := h.service(w, r)
	if !ok {
		return
	}
	h.writeResponse(w, r, http.StatusOK, mappingsSnapshot(s))
}

// HandleRefetchMappings re-runs the trade and position mapping queries
func (h *Handler) HandleRefetchMappings(w http.ResponseWriter, r *http.Request) {
	s, ok := h.service(w, r)
	if !ok {
		return
	}
	if err := s.RefetchMappings(r.Context()); err != nil {
		h.log.Warn().Err(err).Str("user_id", s.UserID()).Msg("Mapping refetch failed")
	}
	h.writeResponse(w, r, http.StatusOK, mappingsSnapshot(s))
}

// HandleSaveOrderMappings replaces the orders attached to one position
func (h *Handler) HandleSaveOrderMappings(w http.ResponseWriter, r *http.Request) {
	s, ok := h.service(w, r)
	if !ok {
		return
	}

	var req saveOrderMappingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.PositionKey == "" {
		h.writeError(w, http.StatusBadRequest, "position_key is required")
		return
	}

	if err := s.SavePositionOrderMappings(r.Context(), req.PositionKey, req.OrderIDs); err != nil {
		h.log.Error().Err(err).Str("position_key", req.PositionKey).Msg("Failed to save order mappings")
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	// The saved set only shows up in the order map after a refetch.
	if err := s.OrderMappingsQuery().Refetch(r.Context()); err != nil {
		h.log.Warn().Err(err).Msg("Order mapping refetch after save failed")
	}

	h.writeResponse(w, r, http.StatusOK, map[string]any{
		"position_key": req.PositionKey,
		"order_ids":    mappings.NewIDSet(req.OrderIDs...),
	})
}

// HandlePositionKey derives the composite key of the posted position
func (h *Handler) HandlePositionKey(w http.ResponseWriter, r *http.Request) {
	var p domain.Position
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	h.writeResponse(w, r, http.StatusOK, map[string]string{"key": mappings.PositionKey(p)})
}

// HandleAttachedTrades returns the trades attached to the posted position
func (h *Handler) HandleAttachedTrades(w http.ResponseWriter, r *http.Request) {
	s, ok := h.service(w, r)
	if !ok {
		return
	}
	var p domain.Position
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	h.writeResponse(w, r, http.StatusOK, s.GetAttachedTrades(r.Context(), p))
}

// HandleAttachedOrders returns the orders attached to the posted position
func (h *Handler) HandleAttachedOrders(w http.ResponseWriter, r *http.Request) {
	s, ok := h.service(w, r)
	if !ok {
		return
	}
	var p domain.Position
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	h.writeResponse(w, r, http.StatusOK, s.GetAttachedOrders(r.Context(), p))
}

// HandleAttachedPositions resolves attached position keys into positions
func (h *Handler) HandleAttachedPositions(w http.ResponseWriter, r *http.Request) {
	s, ok := h.service(w, r)
	if !ok {
		return
	}
	var req attachedPositionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	positions := s.FetchAttachedPositionsForDisplay(r.Context(), req.Position, mappings.NewIDSet(req.AttachedKeys...))
	h.writeResponse(w, r, http.StatusOK, positions)
}

// HandleSymbolTrades lists every trade of a symbol root
func (h *Handler) HandleSymbolTrades(w http.ResponseWriter, r *http.Request) {
	s, ok := h.service(w, r)
	if !ok {
		return
	}
	root := chi.URLParam(r, "root")
	h.writeResponse(w, r, http.StatusOK, s.FetchTradesForSymbol(r.Context(), root, r.URL.Query().Get("account_id")))
}

// HandleSymbolOrders lists the orders of one account on a symbol root
func (h *Handler) HandleSymbolOrders(w http.ResponseWriter, r *http.Request) {
	s, ok := h.service(w, r)
	if !ok {
		return
	}
	accountID := r.URL.Query().Get("account_id")
	if accountID == "" {
		h.writeError(w, http.StatusBadRequest, "account_id is required")
		return
	}
	root := chi.URLParam(r, "root")
	h.writeResponse(w, r, http.StatusOK, s.FetchOrdersForSymbol(r.Context(), root, accountID))
}

// HandleGetExpansion returns the expanded and processing rows of the user
func (h *Handler) HandleGetExpansion(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	t := h.expansion.For(userID)
	h.writeResponse(w, r, http.StatusOK, map[string][]string{
		"expanded":   t.Expanded(),
		"processing": t.Processing(),
	})
}

// HandleToggleExpansion flips one row
func (h *Handler) HandleToggleExpansion(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	req, ok := h.decodeToggle(w, r)
	if !ok {
		return
	}
	expanded := h.expansion.For(userID).Toggle(req.PositionKey, nil)
	h.writeResponse(w, r, http.StatusOK, map[string]any{
		"position_key": req.PositionKey,
		"expanded":     expanded,
	})
}

// HandleMarkProcessing flags a row as loading
func (h *Handler) HandleMarkProcessing(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	req, ok := h.decodeToggle(w, r)
	if !ok {
		return
	}
	h.expansion.For(userID).MarkProcessing(req.PositionKey)
	h.writeResponse(w, r, http.StatusOK, map[string]any{
		"position_key": req.PositionKey,
		"processing":   true,
	})
}

func (h *Handler) decodeToggle(w http.ResponseWriter, r *http.Request) (toggleRequest, bool) {
	var req toggleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return req, false
	}
	if req.PositionKey == "" {
		h.writeError(w, http.StatusBadRequest, "position_key is required")
		return req, false
	}
	return req, true
}

func (h *Handler) userID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		h.writeError(w, http.StatusBadRequest, mappings.ErrUserRequired.Error())
		return "", false
	}
	return userID, true
}

func (h *Handler) service(w http.ResponseWriter, r *http.Request) (*attachments.Service, bool) {
	userID, ok := h.userID(w, r)
	if !ok {
		return nil, false
	}
	return h.registry.For(r.Context(), userID), true
}

func mappingsSnapshot(s *attachments.Service) mappingsResponse {
	resp := mappingsResponse{
		Trades:    s.PositionTradesMap(),
		Positions: s.PositionPositionsMap(),
		Orders:    s.PositionOrdersMap(),
		Ready:     s.IsReady(),
	}
	for name, q := range map[string]*mappings.Query{
		"trades":    s.TradeMappingsQuery(),
		"positions": s.PositionMappingsQuery(),
		"orders":    s.OrderMappingsQuery(),
	} {
		if err := q.Err(); err != nil && !errors.Is(err, mappings.ErrUserRequired) {
			if resp.Errors == nil {
				resp.Errors = make(map[string]string)
			}
			resp.Errors[name] = err.Error()
		}
	}
	return resp
}

// writeResponse encodes data as msgpack when the client asks for it, JSON otherwise.
func (h *Handler) writeResponse(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	if !strings.Contains(r.Header.Get("Accept"), contentTypeMsgpack) {
		h.writeJSON(w, status, data)
		return
	}

	// Records carry custom JSON (passthrough fields, decimals as strings);
	// going through JSON keeps both encodings identical in shape.
	raw, err := json.Marshal(data)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	body, err := msgpack.Marshal(generic)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", contentTypeMsgpack)
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		h.log.Error().Err(err).Msg("Failed to write msgpack response")
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
