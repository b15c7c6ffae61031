package core

//go:generate mockgen -source=media_iface.go -destination=mock_core/media_mock.go -package=mock_core

import (
	"context"

	"github.com/dkeye/meetsfu/internal/domain"
)

// MediaEngine is the narrow capability surface of the SFU engine.
// Every error it returns is final for the request that triggered it.
type MediaEngine interface {
	CreateRouter(ctx context.Context, codecs []RtpCodecCapability) (Router, error)
	// Dead yields once if the engine can no longer serve any router.
	Dead() <-chan error
}

// Router is owned by exactly one room.
type Router interface {
	ID() string
	RtpCapabilities() RtpCapabilities
	CreateWebRtcTransport(ctx context.Context, opts TransportOptions) (WebRtcTransport, error)
	// CanConsume must be checked before Consume.
	CanConsume(producerID string, caps RtpCapabilities) bool
	// Close is idempotent and closes every transport created by the router.
	Close()
}

type TransportDirection string

const (
	DirectionSend TransportDirection = "send"
	DirectionRecv TransportDirection = "recv"
)

type TransportOptions struct {
	Direction TransportDirection
}

type WebRtcTransport interface {
	ID() string
	Params() TransportParams
	// Connect fails when called twice.
	Connect(ctx context.Context, dtls DtlsParameters, ice *IceParameters) error
	Produce(ctx context.Context, kind domain.MediaKind, rtp RtpParameters) (Producer, error)
	Consume(ctx context.Context, producerID string, caps RtpCapabilities) (Consumer, error)
	// Close is idempotent and invalidates the producers and consumers
	// created on this transport.
	Close()
}

type Producer interface {
	ID() string
	Kind() domain.MediaKind
	Close()
}

type Consumer interface {
	ID() string
	ProducerID() string
	Kind() domain.MediaKind
	RtpParameters() RtpParameters
	Close()
}
