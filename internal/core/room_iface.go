package core

import (
	"time"

	"github.com/dkeye/meetsfu/internal/domain"
)

// PeerDTO is a read-only view for APIs (no transport fields).
type PeerDTO struct {
	PeerID   SessionID     `json:"peerId"`
	UserID   domain.UserID `json:"userId"`
	Username string        `json:"username"`
}

type ProducerDTO struct {
	ProducerID string           `json:"producerId"`
	PeerID     SessionID        `json:"peerId"`
	UserID     domain.UserID    `json:"userId"`
	Username   string           `json:"username"`
	Kind       domain.MediaKind `json:"kind"`
}

// RoomService is the core-facing API of a room.
// Every method is serialized per room; none of them calls into the media
// engine while holding the room lock.
type RoomService interface {
	Room() *domain.Room
	Router() Router
	PeerCount() int
	PeersSnapshot() []PeerDTO
	OtherProducers(exclude SessionID) []ProducerDTO

	AddPeer(peerID SessionID, user domain.User) (PeerDTO, error)
	Peer(peerID SessionID) (PeerDTO, bool)
	// RemovePeer reports whether the peer was present.
	RemovePeer(peerID SessionID) bool

	AddTransport(peerID SessionID, t WebRtcTransport) error
	Transport(peerID SessionID, transportID string) (WebRtcTransport, error)
	AddProducer(peerID SessionID, transportID string, p Producer) error
	AddConsumer(peerID SessionID, transportID string, c Consumer) error

	// Close tears down every peer and the router.
	Close()
}

type RoomInfo struct {
	ID        domain.RoomID `json:"roomId"`
	PeerCount int           `json:"peers"`
	CreatedAt time.Time     `json:"createdAt"`
}
