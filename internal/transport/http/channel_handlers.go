package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/haven-im/haven-server/internal/config"
	"github.com/haven-im/haven-server/internal/store"
)

// ChannelHandlers provides HTTP handlers for channel membership and
// client-facing RTC configuration.
type ChannelHandlers struct {
	store store.Store
	cfg   *config.Config
	log   *zerolog.Logger
}

// NewChannelHandlers creates a new channel handlers instance.
func NewChannelHandlers(st store.Store, cfg *config.Config, logger *zerolog.Logger) *ChannelHandlers {
	return &ChannelHandlers{
		store: st,
		cfg:   cfg,
		log:   logger,
	}
}

// CreateChannelRequest represents the create channel request body.
type CreateChannelRequest struct {
	Code string `json:"code" binding:"required,min=1,max=64"`
	Name string `json:"name" binding:"required,min=1,max=64"`
}

// ChannelResponse represents a channel in API responses.
type ChannelResponse struct {
	ID        int64  `json:"id"`
	Code      string `json:"code"`
	Name      string `json:"name"`
	OwnerID   *int64 `json:"owner_id,omitempty"`
	CreatedAt string `json:"created_at"`
}

// CallResponse represents a call history row in API responses.
type CallResponse struct {
	Code     string `json:"code"`
	CallerID int64  `json:"caller_id"`
	CalleeID int64  `json:"callee_id"`
	Status   string `json:"status"`
}

// RTCConfigResponse hands clients the ICE servers the deployment uses.
type RTCConfigResponse struct {
	STUNServers []string `json:"stun_servers"`
}

// CreateChannel handles channel creation. The creator becomes the first
// member, which is what the voice-join gate later checks.
// POST /api/channels
func (h *ChannelHandlers) CreateChannel(c *gin.Context) {
	userID, ok := authedUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	var req CreateChannelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}
	req.Code = strings.TrimSpace(req.Code)

	ch, err := h.store.CreateChannel(c.Request.Context(), req.Code, req.Name, userID)
	if err != nil {
		h.log.Error().Err(err).Str("code", req.Code).Msg("failed to create channel")
		c.JSON(http.StatusConflict, ErrorResponse{Error: "channel already exists"})
		return
	}

	c.JSON(http.StatusCreated, ChannelResponse{
		ID:        ch.ID,
		Code:      ch.Code,
		Name:      ch.Name,
		OwnerID:   ch.OwnerID,
		CreatedAt: ch.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	})
}

// JoinChannel records persistent membership for the caller.
// POST /api/channels/:code/members
func (h *ChannelHandlers) JoinChannel(c *gin.Context) {
	userID, ok := authedUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	code := c.Param("code")
	if err := h.store.AddMember(c.Request.Context(), userID, code); err != nil {
		h.log.Debug().Err(err).Str("code", code).Msg("failed to add member")
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "channel not found"})
		return
	}

	c.Status(http.StatusNoContent)
}

// LeaveChannel removes persistent membership for the caller.
// DELETE /api/channels/:code/members
func (h *ChannelHandlers) LeaveChannel(c *gin.Context) {
	userID, ok := authedUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	code := c.Param("code")
	if err := h.store.RemoveMember(c.Request.Context(), userID, code); err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "channel not found"})
		return
	}

	c.Status(http.StatusNoContent)
}

// RecentCalls lists the caller's recent 1:1 calls.
// GET /api/calls/recent
func (h *ChannelHandlers) RecentCalls(c *gin.Context) {
	userID, ok := authedUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	calls, err := h.store.ListRecentCalls(c.Request.Context(), userID, 20)
	if err != nil {
		h.log.Error().Err(err).Int64("user_id", userID).Msg("failed to list calls")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	out := make([]CallResponse, 0, len(calls))
	for _, call := range calls {
		out = append(out, CallResponse{
			Code:     call.Code,
			CallerID: call.CallerID,
			CalleeID: call.CalleeID,
			Status:   string(call.Status),
		})
	}
	c.JSON(http.StatusOK, out)
}

// RTCConfig returns the ICE server list clients should gather with.
// GET /api/rtc-config
func (h *ChannelHandlers) RTCConfig(c *gin.Context) {
	c.JSON(http.StatusOK, RTCConfigResponse{STUNServers: h.cfg.STUNServers})
}
