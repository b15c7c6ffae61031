package rtc

import (
	"context"
	"sync"

	"github.com/dkeye/meetsfu/internal/core"
	"github.com/dkeye/meetsfu/internal/domain"
	"github.com/google/uuid"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
)

type Producer struct {
	id        string
	kind      domain.MediaKind
	codec     core.RtpCodecParameters
	ssrc      uint32
	transport *Transport
	receiver  *webrtc.RTPReceiver

	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

func newProducer(t *Transport, kind domain.MediaKind, codec core.RtpCodecParameters, ssrc uint32, receiver *webrtc.RTPReceiver) *Producer {
	ctx, cancel := context.WithCancel(t.ctx)
	return &Producer{
		id:        uuid.NewString(),
		kind:      kind,
		codec:     codec,
		ssrc:      ssrc,
		transport: t,
		receiver:  receiver,
		ctx:       ctx,
		cancel:    cancel,
	}
}

func (p *Producer) ID() string             { return p.id }
func (p *Producer) Kind() domain.MediaKind { return p.kind }

// run starts receiving once the transport is up and feeds the relay.
func (p *Producer) run() {
	if !p.transport.waitReady(p.ctx) {
		return
	}
	err := p.receiver.Receive(webrtc.RTPReceiveParameters{
		Encodings: []webrtc.RTPDecodingParameters{{
			RTPCodingParameters: webrtc.RTPCodingParameters{
				SSRC:        webrtc.SSRC(p.ssrc),
				PayloadType: webrtc.PayloadType(p.codec.PayloadType),
			},
		}},
	})
	if err != nil {
		p.transport.logger.Error().Err(err).Str("producer", p.id).Msg("receive failed")
		p.Close()
		return
	}
	track := p.receiver.Track()
	if track == nil {
		p.transport.logger.Error().Str("producer", p.id).Msg("receiver has no track")
		p.Close()
		return
	}
	p.transport.router.relays.StartRelay(p.ctx, p.id, track)
	p.RequestKeyFrame()
}

// RequestKeyFrame asks the sender of a video producer for a keyframe.
func (p *Producer) RequestKeyFrame() {
	if p.kind != domain.MediaKindVideo {
		return
	}
	select {
	case <-p.transport.ready:
	default:
		return
	}
	if _, err := p.transport.dtls.WriteRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: p.ssrc}}); err != nil {
		p.transport.logger.Debug().Err(err).Str("producer", p.id).Msg("pli write failed")
	}
}

func (p *Producer) Close() {
	p.once.Do(func() {
		p.cancel()
		p.transport.router.removeProducer(p.id)
		p.transport.removeProducer(p.id)
		if err := p.receiver.Stop(); err != nil {
			p.transport.logger.Debug().Err(err).Str("producer", p.id).Msg("receiver stop")
		}
	})
}
