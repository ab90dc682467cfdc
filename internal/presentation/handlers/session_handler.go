package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/bimakw/stream-indexer/internal/application/services"
	"github.com/bimakw/stream-indexer/internal/domain/entities"
)

// SessionController is what the handler needs from the session manager
type SessionController interface {
	StartSession(ctx context.Context, userID, contractAddress, chain, tier string) (entities.IndexerSession, error)
	Pause(sessionID string) error
	Resume(sessionID string) error
	StopSession(ctx context.Context, sessionID string) error
	Status(ctx context.Context, sessionID string) (entities.IndexerSession, error)
}

// SessionHandler handles HTTP requests for indexing sessions
type SessionHandler struct {
	manager SessionController
	logger  *zap.Logger
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(manager SessionController, logger *zap.Logger) *SessionHandler {
	return &SessionHandler{
		manager: manager,
		logger:  logger,
	}
}

// CreateSessionRequest is the body of POST /api/v1/sessions
type CreateSessionRequest struct {
	UserID          string `json:"user_id"`
	ContractAddress string `json:"contract_address"`
	Chain           string `json:"chain"`
	Tier            string `json:"tier"`
}

// Create handles POST /api/v1/sessions
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.UserID == "" {
		h.respondError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	chain, ok := entities.ChainByName(req.Chain)
	if !ok {
		h.respondError(w, http.StatusBadRequest, "Unsupported chain")
		return
	}

	if !isValidAddress(chain.Family, req.ContractAddress) {
		h.respondError(w, http.StatusBadRequest, "Invalid contract address format")
		return
	}

	session, err := h.manager.StartSession(ctx, req.UserID, strings.ToLower(req.ContractAddress), req.Chain, req.Tier)
	if err != nil {
		h.logger.Error("Failed to start session",
			zap.Error(err),
			zap.String("user_id", req.UserID),
			zap.String("chain", req.Chain),
			zap.String("contract", req.ContractAddress),
		)
		h.respondError(w, http.StatusInternalServerError, "Failed to start session")
		return
	}

	h.respondJSON(w, http.StatusCreated, session)
}

// Get handles GET /api/v1/sessions/{session_id}
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := chi.URLParam(r, "session_id")

	session, err := h.manager.Status(ctx, sessionID)
	if err != nil {
		if errors.Is(err, services.ErrSessionNotFound) {
			h.respondError(w, http.StatusNotFound, "session not found")
			return
		}
		h.logger.Error("Failed to get session", zap.Error(err), zap.String("session_id", sessionID))
		h.respondError(w, http.StatusInternalServerError, "Failed to get session")
		return
	}

	h.respondJSON(w, http.StatusOK, session)
}

// Pause handles POST /api/v1/sessions/{session_id}/pause
func (h *SessionHandler) Pause(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")

	if err := h.manager.Pause(sessionID); err != nil {
		h.respondLifecycleError(w, sessionID, "pause", err)
		return
	}

	h.respondJSON(w, http.StatusAccepted, map[string]string{"session_id": sessionID, "status": "pausing"})
}

// Resume handles POST /api/v1/sessions/{session_id}/resume
func (h *SessionHandler) Resume(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")

	if err := h.manager.Resume(sessionID); err != nil {
		h.respondLifecycleError(w, sessionID, "resume", err)
		return
	}

	h.respondJSON(w, http.StatusAccepted, map[string]string{"session_id": sessionID, "status": "resuming"})
}

// Stop handles POST /api/v1/sessions/{session_id}/stop
func (h *SessionHandler) Stop(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")

	if err := h.manager.StopSession(r.Context(), sessionID); err != nil {
		h.respondLifecycleError(w, sessionID, "stop", err)
		return
	}

	h.respondJSON(w, http.StatusAccepted, map[string]string{"session_id": sessionID, "status": "stopping"})
}

func (h *SessionHandler) respondLifecycleError(w http.ResponseWriter, sessionID, action string, err error) {
	switch {
	case errors.Is(err, services.ErrSessionNotFound):
		h.respondError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, services.ErrInvalidTransition):
		h.respondError(w, http.StatusConflict, err.Error())
	default:
		h.logger.Error("Session lifecycle request failed",
			zap.Error(err),
			zap.String("session_id", sessionID),
			zap.String("action", action),
		)
		h.respondError(w, http.StatusInternalServerError, "Failed to "+action+" session")
	}
}

func (h *SessionHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (h *SessionHandler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}

// isValidAddress checks the address shape for the chain family. EVM
// addresses are exactly 20 bytes; Cairo addresses are field elements up
// to 32 bytes.
func isValidAddress(family entities.ChainFamily, addr string) bool {
	if !strings.HasPrefix(addr, "0x") {
		return false
	}

	hexPart := addr[2:]
	switch family {
	case entities.ChainFamilyEVM:
		if len(hexPart) != 40 {
			return false
		}
	case entities.ChainFamilyCairo:
		if len(hexPart) == 0 || len(hexPart) > 64 {
			return false
		}
	default:
		return false
	}

	for _, c := range hexPart {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}
