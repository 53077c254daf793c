package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/colearn-server/internal/core"
	"github.com/vovakirdan/colearn-server/internal/proto"
	"github.com/vovakirdan/colearn-server/internal/store"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 200
)

// RoomHandlers provides HTTP handlers for room management endpoints.
type RoomHandlers struct {
	registry *core.Registry
	router   *core.Router
	history  store.History
	log      *zerolog.Logger
}

// NewRoomHandlers creates a new room handlers instance.
func NewRoomHandlers(registry *core.Registry, router *core.Router, history store.History, logger *zerolog.Logger) *RoomHandlers {
	return &RoomHandlers{
		registry: registry,
		router:   router,
		history:  history,
		log:      logger,
	}
}

// CreateRoomResponse is returned for a newly created room.
type CreateRoomResponse struct {
	RoomID string `json:"roomId"`
}

// RoomResponse describes a live room. OpenedAt is set when session history is
// enabled.
type RoomResponse struct {
	RoomID     string             `json:"roomId"`
	LanguageID string             `json:"languageId"`
	Members    []proto.MemberInfo `json:"members"`
	OpenedAt   string             `json:"openedAt,omitempty"`
}

// SessionResponse is one entry of the room history.
type SessionResponse struct {
	RoomID      string  `json:"roomId"`
	OpenedAt    string  `json:"openedAt"`
	ClosedAt    *string `json:"closedAt,omitempty"`
	PeakMembers int     `json:"peakMembers"`
}

// OutputRequest carries one line of run output.
type OutputRequest struct {
	Message string `json:"message"`
}

// CreateRoom allocates an empty room.
// POST /api/rooms
func (h *RoomHandlers) CreateRoom(c *gin.Context) {
	id, err := h.registry.CreateRoom()
	if err != nil {
		if errors.Is(err, core.ErrCapacityExhausted) {
			c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: err.Error()})
			return
		}
		h.log.Error().Err(err).Msg("failed to create room")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	c.JSON(http.StatusCreated, CreateRoomResponse{RoomID: id})
}

// GetRoom describes a live room.
// GET /api/rooms/:id
func (h *RoomHandlers) GetRoom(c *gin.Context) {
	snap, ok := h.registry.Lookup(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "room not found"})
		return
	}

	response := RoomResponse{
		RoomID:     snap.RoomID,
		LanguageID: snap.LanguageID,
		Members:    snap.Members,
	}
	if h.history != nil {
		sess, err := h.history.LatestSession(c.Request.Context(), snap.RoomID)
		switch {
		case err == nil:
			response.OpenedAt = sess.OpenedAt.Format(time.RFC3339)
		case !errors.Is(err, store.ErrSessionNotFound):
			h.log.Warn().Err(err).Str("room_id", snap.RoomID).Msg("failed to load room session")
		}
	}

	c.JSON(http.StatusOK, response)
}

// History lists recent room sessions.
// GET /api/rooms/history?limit=
func (h *RoomHandlers) History(c *gin.Context) {
	if h.history == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "history is disabled"})
		return
	}

	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "limit must be a positive integer"})
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	sessions, err := h.history.RecentSessions(c.Request.Context(), limit)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to list sessions")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	response := make([]SessionResponse, 0, len(sessions))
	for _, s := range sessions {
		entry := SessionResponse{
			RoomID:      s.RoomID,
			OpenedAt:    s.OpenedAt.Format(time.RFC3339),
			PeakMembers: s.PeakMembers,
		}
		if s.ClosedAt != nil {
			closed := s.ClosedAt.Format(time.RFC3339)
			entry.ClosedAt = &closed
		}
		response = append(response, entry)
	}

	h.log.Debug().Int("session_count", len(response)).Msg("sessions listed")
	c.JSON(http.StatusOK, response)
}

// AppendOutput folds a run output line posted by the execution worker into the
// room CallbackAuth authorised.
// POST /api/rooms/:id/output
func (h *RoomHandlers) AppendOutput(c *gin.Context) {
	var req OutputRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid output request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	roomID := c.GetString(ContextKeyCallbackRoom)
	if err := h.router.AppendOutput(roomID, req.Message); err != nil {
		if errors.Is(err, core.ErrRoomNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "room not found"})
			return
		}
		h.log.Error().Err(err).Str("room_id", roomID).Msg("failed to append output")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	c.Status(http.StatusAccepted)
}
