package calls

import (
	"encoding/json"

	"github.com/gin-gonic/gin"
	webrtc "github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"github.com/ripplenote/backend/internal/realtime"
	"github.com/ripplenote/backend/pkg/response"
)

// Handler exposes the call registry over HTTP.
type Handler struct {
	registry   *Registry
	hub        *realtime.Hub // optional: room event notifications
	iceServers []webrtc.ICEServer
	logger     *zap.Logger
}

// NewHandler creates the call API handler. hub may be nil.
func NewHandler(registry *Registry, hub *realtime.Hub, iceServers []webrtc.ICEServer, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{registry: registry, hub: hub, iceServers: iceServers, logger: logger}
}

type userRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

type connectTransportRequest struct {
	DTLSParameters json.RawMessage `json:"dtls_parameters" binding:"required"`
}

type createProducerRequest struct {
	UserID        string          `json:"user_id" binding:"required"`
	TransportID   string          `json:"transport_id" binding:"required"`
	Kind          string          `json:"kind" binding:"required,oneof=audio video"`
	RTPParameters json.RawMessage `json:"rtp_parameters" binding:"required"`
}

type createConsumerRequest struct {
	UserID          string          `json:"user_id" binding:"required"`
	TransportID     string          `json:"transport_id" binding:"required"`
	ProducerID      string          `json:"producer_id" binding:"required"`
	RTPCapabilities json.RawMessage `json:"rtp_capabilities" binding:"required"`
}

// sessionResponse decorates a session with the ICE servers clients should use.
type sessionResponse struct {
	*Session
	ICEServers []webrtc.ICEServer `json:"ice_servers,omitempty"`
}

// Create handles POST /api/call/create.
func (h *Handler) Create(c *gin.Context) {
	var req userRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "user_id is required")
		return
	}
	session, err := h.registry.CreateRoom(c.Request.Context(), req.UserID)
	if err != nil {
		h.logger.Error("create room failed", zap.String("user_id", req.UserID), zap.Error(err))
		response.FromError(c, err)
		return
	}
	response.Created(c, sessionResponse{Session: session, ICEServers: h.iceServers})
}

// Join handles POST /api/call/join/:room_id.
func (h *Handler) Join(c *gin.Context) {
	roomID := c.Param("room_id")
	var req userRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "user_id is required")
		return
	}
	session, err := h.registry.JoinRoom(c.Request.Context(), roomID, req.UserID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	h.notify(roomID, "participant_joined", gin.H{"user_id": req.UserID})
	response.OK(c, sessionResponse{Session: session, ICEServers: h.iceServers})
}

// Leave handles POST /api/call/leave/:room_id.
func (h *Handler) Leave(c *gin.Context) {
	roomID := c.Param("room_id")
	var req userRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "user_id is required")
		return
	}
	existed, err := h.registry.LeaveRoom(c.Request.Context(), roomID, req.UserID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	if !existed {
		response.NotFound(c, "call room not found")
		return
	}
	h.notify(roomID, "participant_left", gin.H{"user_id": req.UserID})
	response.OK(c, gin.H{"room_id": roomID, "status": "left"})
}

// Get handles GET /api/call/:room_id.
func (h *Handler) Get(c *gin.Context) {
	info, ok := h.registry.GetRoom(c.Param("room_id"))
	if !ok {
		response.NotFound(c, "call room not found")
		return
	}
	response.OK(c, info)
}

// ConnectTransport handles POST /api/call/:room_id/transport/:transport_id/connect.
func (h *Handler) ConnectTransport(c *gin.Context) {
	roomID := c.Param("room_id")
	transportID := c.Param("transport_id")
	var req connectTransportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "dtls_parameters are required")
		return
	}
	if err := h.registry.ConnectTransport(c.Request.Context(), roomID, transportID, req.DTLSParameters); err != nil {
		response.FromError(c, err)
		return
	}
	response.OK(c, gin.H{"transport_id": transportID, "status": "connected"})
}

// CreateProducer handles POST /api/call/:room_id/producer.
func (h *Handler) CreateProducer(c *gin.Context) {
	roomID := c.Param("room_id")
	var req createProducerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	producer, err := h.registry.AddProducer(c.Request.Context(), roomID, req.UserID, req.TransportID, req.RTPParameters, req.Kind)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.OK(c, producer)
}

// CreateConsumer handles POST /api/call/:room_id/consumer.
func (h *Handler) CreateConsumer(c *gin.Context) {
	roomID := c.Param("room_id")
	var req createConsumerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	consumer, err := h.registry.AddConsumer(c.Request.Context(), roomID, req.UserID, req.TransportID, req.ProducerID, req.RTPCapabilities)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.OK(c, consumer)
}

func (h *Handler) notify(roomID, event string, payload interface{}) {
	if h.hub != nil {
		h.hub.Broadcast(roomID, event, payload)
	}
}
