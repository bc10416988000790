// Package calls owns the in-memory registry of active 1:1 call rooms and the
// signaling objects that bind participants to the external SFU.
package calls

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ripplenote/backend/internal/sfu"
	"github.com/ripplenote/backend/pkg/apperr"
)

// MaxParticipants is the room capacity. The service models strict 1:1 calls.
const MaxParticipants = 2

// Room status values.
const (
	StatusActive = "active"
	StatusClosed = "closed"
)

// Gateway is the subset of the SFU control client the registry drives.
type Gateway interface {
	CreateRouter(ctx context.Context) (*sfu.Router, error)
	RouterRTPCapabilities(ctx context.Context, routerID string) (json.RawMessage, error)
	CreateTransport(ctx context.Context, routerID, direction string) (*sfu.Transport, error)
	ConnectTransport(ctx context.Context, routerID, transportID string, dtlsParameters json.RawMessage) error
	CreateProducer(ctx context.Context, routerID, transportID string, rtpParameters json.RawMessage) (*sfu.Producer, error)
	CreateConsumer(ctx context.Context, routerID, transportID, producerID string, rtpCapabilities json.RawMessage) (*sfu.Consumer, error)
	CloseRouter(ctx context.Context, routerID string) error
}

// Session is the payload returned to a participant on create/join.
type Session struct {
	RoomID          string          `json:"room_id"`
	RouterID        string          `json:"router_id"`
	RTPCapabilities json.RawMessage `json:"rtp_capabilities"`
	Transport       *sfu.Transport  `json:"transport"`
	Status          string          `json:"status"`
}

// RoomInfo is a read-only room snapshot. No handles, no external references
// beyond the opaque router id.
type RoomInfo struct {
	RoomID       string    `json:"room_id"`
	RouterID     string    `json:"router_id"`
	Participants []string  `json:"participants"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
}

// HasParticipant reports whether userID is currently in the room.
func (ri RoomInfo) HasParticipant(userID string) bool {
	for _, p := range ri.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// Composite map keys so participant ids that prefix one another can never
// collide during cleanup.
type producerKey struct {
	UserID string
	Kind   string
}

type consumerKey struct {
	UserID     string
	ProducerID string
}

// room is the registry-owned state for one call. mu serializes every operation
// touching the room, including the external SFU calls made on its behalf.
type room struct {
	mu           sync.Mutex
	id           string
	routerID     string
	participants []string
	transports   map[string]*sfu.Transport
	producers    map[producerKey]*sfu.Producer
	consumers    map[consumerKey]*sfu.Consumer
	createdAt    time.Time
	closed       bool
}

func (r *room) hasParticipant(userID string) bool {
	for _, p := range r.participants {
		if p == userID {
			return true
		}
	}
	return false
}

// Registry owns the room table. Only the registry mutates rooms; callers get
// snapshots.
type Registry struct {
	gateway Gateway
	logger  *zap.Logger

	mu       sync.RWMutex
	rooms    map[string]*room
	shutdown bool
}

// NewRegistry creates an empty call session registry.
func NewRegistry(gateway Gateway, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		gateway: gateway,
		logger:  logger,
		rooms:   make(map[string]*room),
	}
}

// CreateRoom allocates a router and a transport for the creator and registers
// a new active room. If a later step fails, the router is closed before the
// error is returned so nothing is orphaned in the SFU.
func (reg *Registry) CreateRoom(ctx context.Context, creatorID string) (*Session, error) {
	if creatorID == "" {
		return nil, apperr.Precondition("user_id is required")
	}

	router, err := reg.gateway.CreateRouter(ctx)
	if err != nil {
		return nil, err
	}

	caps, err := reg.gateway.RouterRTPCapabilities(ctx, router.ID)
	if err != nil {
		reg.closeRouter(router.ID)
		return nil, err
	}
	transport, err := reg.gateway.CreateTransport(ctx, router.ID, "sendrecv")
	if err != nil {
		reg.closeRouter(router.ID)
		return nil, err
	}

	r := &room{
		id:           uuid.New().String(),
		routerID:     router.ID,
		participants: []string{creatorID},
		transports:   map[string]*sfu.Transport{creatorID: transport},
		producers:    make(map[producerKey]*sfu.Producer),
		consumers:    make(map[consumerKey]*sfu.Consumer),
		createdAt:    time.Now(),
	}

	reg.mu.Lock()
	if reg.shutdown {
		reg.mu.Unlock()
		reg.closeRouter(router.ID)
		return nil, apperr.Precondition("registry is shutting down")
	}
	reg.rooms[r.id] = r
	reg.mu.Unlock()

	reg.logger.Info("call room created",
		zap.String("room_id", r.id),
		zap.String("router_id", router.ID),
		zap.String("user_id", creatorID),
	)
	return &Session{
		RoomID:          r.id,
		RouterID:        router.ID,
		RTPCapabilities: caps,
		Transport:       transport,
		Status:          "created",
	}, nil
}

// JoinRoom adds the second participant. Membership checks run before any
// external call; membership is recorded only after the transport exists, so a
// failed join never leaves a phantom participant.
func (reg *Registry) JoinRoom(ctx context.Context, roomID, userID string) (*Session, error) {
	if userID == "" {
		return nil, apperr.Precondition("user_id is required")
	}
	r, ok := reg.lookup(roomID)
	if !ok {
		return nil, apperr.NotFound("call room %s", roomID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, apperr.NotFound("call room %s", roomID)
	}
	if r.hasParticipant(userID) {
		return nil, apperr.Conflict("user %s already in room %s", userID, roomID)
	}
	if len(r.participants) >= MaxParticipants {
		return nil, apperr.RoomFull(roomID)
	}

	caps, err := reg.gateway.RouterRTPCapabilities(ctx, r.routerID)
	if err != nil {
		return nil, err
	}
	transport, err := reg.gateway.CreateTransport(ctx, r.routerID, "sendrecv")
	if err != nil {
		return nil, err
	}

	r.participants = append(r.participants, userID)
	r.transports[userID] = transport

	reg.logger.Info("participant joined",
		zap.String("room_id", roomID),
		zap.String("user_id", userID),
	)
	return &Session{
		RoomID:          roomID,
		RouterID:        r.routerID,
		RTPCapabilities: caps,
		Transport:       transport,
		Status:          "joined",
	}, nil
}

// LeaveRoom removes the participant with all their signaling objects. When the
// last participant leaves, the router is closed exactly once and the room is
// dropped in the same operation. Returns whether the room existed; unknown
// rooms are not an error.
func (reg *Registry) LeaveRoom(ctx context.Context, roomID, userID string) (bool, error) {
	r, ok := reg.lookup(roomID)
	if !ok {
		return false, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false, nil
	}

	if r.hasParticipant(userID) {
		kept := r.participants[:0]
		for _, p := range r.participants {
			if p != userID {
				kept = append(kept, p)
			}
		}
		r.participants = kept
	}
	delete(r.transports, userID)
	for k := range r.producers {
		if k.UserID == userID {
			delete(r.producers, k)
		}
	}
	for k := range r.consumers {
		if k.UserID == userID {
			delete(r.consumers, k)
		}
	}

	if len(r.participants) == 0 {
		if err := reg.gateway.CloseRouter(ctx, r.routerID); err != nil {
			reg.logger.Warn("router close failed, dropping room anyway",
				zap.String("room_id", roomID),
				zap.String("router_id", r.routerID),
				zap.Error(err),
			)
		}
		r.closed = true
		reg.mu.Lock()
		delete(reg.rooms, roomID)
		reg.mu.Unlock()
		reg.logger.Info("call room closed", zap.String("room_id", roomID))
	} else {
		reg.logger.Info("participant left",
			zap.String("room_id", roomID),
			zap.String("user_id", userID),
		)
	}
	return true, nil
}

// GetRoom returns a snapshot of the room, or false if it does not exist.
// No external calls, no mutation.
func (reg *Registry) GetRoom(roomID string) (RoomInfo, bool) {
	r, ok := reg.lookup(roomID)
	if !ok {
		return RoomInfo{}, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return RoomInfo{}, false
	}
	return RoomInfo{
		RoomID:       r.id,
		RouterID:     r.routerID,
		Participants: append([]string(nil), r.participants...),
		Status:       StatusActive,
		CreatedAt:    r.createdAt,
	}, true
}

// ConnectTransport completes the DTLS handshake for a transport in the room.
func (reg *Registry) ConnectTransport(ctx context.Context, roomID, transportID string, dtlsParameters json.RawMessage) error {
	r, ok := reg.lookup(roomID)
	if !ok {
		return apperr.NotFound("call room %s", roomID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return apperr.NotFound("call room %s", roomID)
	}
	return reg.gateway.ConnectTransport(ctx, r.routerID, transportID, dtlsParameters)
}

// AddProducer registers an outbound stream for the user. A second producer for
// the same (user, kind) replaces the stored handle; clients renegotiate media
// and the SFU keeps the authoritative set.
func (reg *Registry) AddProducer(ctx context.Context, roomID, userID, transportID string, rtpParameters json.RawMessage, kind string) (*sfu.Producer, error) {
	r, ok := reg.lookup(roomID)
	if !ok {
		return nil, apperr.NotFound("call room %s", roomID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, apperr.NotFound("call room %s", roomID)
	}

	producer, err := reg.gateway.CreateProducer(ctx, r.routerID, transportID, rtpParameters)
	if err != nil {
		return nil, err
	}
	key := producerKey{UserID: userID, Kind: kind}
	if _, exists := r.producers[key]; exists {
		reg.logger.Debug("replacing producer",
			zap.String("room_id", roomID),
			zap.String("user_id", userID),
			zap.String("kind", kind),
		)
	}
	r.producers[key] = producer
	return producer, nil
}

// AddConsumer subscribes the user to an existing producer.
func (reg *Registry) AddConsumer(ctx context.Context, roomID, userID, transportID, producerID string, rtpCapabilities json.RawMessage) (*sfu.Consumer, error) {
	r, ok := reg.lookup(roomID)
	if !ok {
		return nil, apperr.NotFound("call room %s", roomID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, apperr.NotFound("call room %s", roomID)
	}

	consumer, err := reg.gateway.CreateConsumer(ctx, r.routerID, transportID, producerID, rtpCapabilities)
	if err != nil {
		return nil, err
	}
	r.consumers[consumerKey{UserID: userID, ProducerID: producerID}] = consumer
	return consumer, nil
}

// ActiveRooms returns the number of active rooms.
func (reg *Registry) ActiveRooms() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.rooms)
}

// Shutdown closes every still-open router and empties the registry. Called
// once during process shutdown; the registry rejects new rooms afterwards.
func (reg *Registry) Shutdown(ctx context.Context) {
	reg.mu.Lock()
	reg.shutdown = true
	remaining := make([]*room, 0, len(reg.rooms))
	for _, r := range reg.rooms {
		remaining = append(remaining, r)
	}
	reg.rooms = make(map[string]*room)
	reg.mu.Unlock()

	for _, r := range remaining {
		r.mu.Lock()
		if !r.closed {
			if err := reg.gateway.CloseRouter(ctx, r.routerID); err != nil {
				reg.logger.Warn("router close failed during shutdown",
					zap.String("room_id", r.id),
					zap.Error(err),
				)
			}
			r.closed = true
		}
		r.mu.Unlock()
	}
	if len(remaining) > 0 {
		reg.logger.Info("registry shut down", zap.Int("rooms_closed", len(remaining)))
	}
}

func (reg *Registry) lookup(roomID string) (*room, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	r, ok := reg.rooms[roomID]
	return r, ok
}

// closeRouter is the best-effort cleanup path for half-created rooms. Uses a
// short detached context so cleanup still runs when the request context is
// already cancelled.
func (reg *Registry) closeRouter(routerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := reg.gateway.CloseRouter(ctx, routerID); err != nil {
		reg.logger.Warn("orphan router close failed", zap.String("router_id", routerID), zap.Error(err))
	}
}
