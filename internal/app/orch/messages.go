package orch

import (
	"github.com/dkeye/meetsfu/internal/core"
	"github.com/dkeye/meetsfu/internal/domain"
)

// Server-initiated events.
const (
	EventNewPeer     = "newPeer"
	EventNewProducer = "newProducer"
	EventPeerLeft    = "peerLeft"
	EventRoomClosed  = "roomClosed"
)

type CreateRoomReply struct {
	RoomID domain.RoomID `json:"roomId"`
}

type JoinRequest struct {
	RoomID   domain.RoomID `json:"roomId"`
	UserID   domain.UserID `json:"userId"`
	Username string        `json:"username"`
}

type JoinReply struct {
	Success bool           `json:"success"`
	PeerID  core.SessionID `json:"peerId"`
	Peers   []core.PeerDTO `json:"peers"`
}

// RoomRequest carries an optional room id; joined peers may omit it.
type RoomRequest struct {
	RoomID domain.RoomID `json:"roomId,omitempty"`
}

type CapabilitiesReply struct {
	RtpCapabilities core.RtpCapabilities `json:"rtpCapabilities"`
}

type CreateTransportRequest struct {
	RoomID    domain.RoomID           `json:"roomId,omitempty"`
	Direction core.TransportDirection `json:"direction,omitempty"`
}

type ConnectTransportRequest struct {
	RoomID         domain.RoomID        `json:"roomId,omitempty"`
	TransportID    string               `json:"transportId"`
	DtlsParameters *core.DtlsParameters `json:"dtlsParameters"`
	IceParameters  *core.IceParameters  `json:"iceParameters,omitempty"`
}

type SuccessReply struct {
	Success bool `json:"success"`
}

type ProduceRequest struct {
	RoomID        domain.RoomID       `json:"roomId,omitempty"`
	TransportID   string              `json:"transportId"`
	Kind          domain.MediaKind    `json:"kind"`
	RtpParameters *core.RtpParameters `json:"rtpParameters"`
}

type ProduceReply struct {
	ProducerID string `json:"producerId"`
}

type ConsumeRequest struct {
	RoomID          domain.RoomID         `json:"roomId,omitempty"`
	TransportID     string                `json:"transportId"`
	ProducerID      string                `json:"producerId"`
	RtpCapabilities *core.RtpCapabilities `json:"rtpCapabilities"`
}

type ConsumeReply struct {
	ID            string             `json:"id"`
	ProducerID    string             `json:"producerId"`
	Kind          domain.MediaKind   `json:"kind"`
	RtpParameters core.RtpParameters `json:"rtpParameters"`
}

type ProducersReply struct {
	Producers []core.ProducerDTO `json:"producers"`
}

type WhoamiReply struct {
	PeerID   core.SessionID `json:"peerId"`
	UserID   domain.UserID  `json:"userId,omitempty"`
	Username string         `json:"username,omitempty"`
	RoomID   domain.RoomID  `json:"roomId,omitempty"`
}

type NewProducerEvent struct {
	PeerID     core.SessionID   `json:"peerId"`
	ProducerID string           `json:"producerId"`
	Kind       domain.MediaKind `json:"kind"`
	UserID     domain.UserID    `json:"userId"`
	Username   string           `json:"username"`
}

type PeerLeftEvent struct {
	PeerID core.SessionID `json:"peerId"`
}

type RoomClosedEvent struct {
	RoomID domain.RoomID `json:"roomId"`
}
