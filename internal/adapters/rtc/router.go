package rtc

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/dkeye/meetsfu/internal/app/sfu"
	"github.com/dkeye/meetsfu/internal/core"
	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/intervalpli"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var errRouterClosed = errors.New("router closed")

type Router struct {
	id     string
	engine *Engine
	api    *webrtc.API
	media  *webrtc.MediaEngine
	codecs []core.RtpCodecCapability
	relays *sfu.RelayManager

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	payloads   map[webrtc.PayloadType]string
	transports map[string]*Transport
	producers  map[string]*Producer
	closed     bool
}

func newRouter(e *Engine, id string, codecs []core.RtpCodecCapability) (*Router, error) {
	if len(codecs) == 0 {
		return nil, errors.New("router needs at least one codec")
	}
	media := &webrtc.MediaEngine{}
	payloads := make(map[webrtc.PayloadType]string, len(codecs))
	for _, c := range codecs {
		if !c.Kind.Valid() {
			return nil, fmt.Errorf("codec %s: invalid kind %q", c.MimeType, c.Kind)
		}
		if err := media.RegisterCodec(toCodecParameters(c), codecType(c.Kind)); err != nil {
			return nil, fmt.Errorf("register codec %s: %w", c.MimeType, err)
		}
		payloads[webrtc.PayloadType(c.PreferredPayloadType)] = strings.ToLower(c.MimeType)
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(media, registry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}
	pli, err := intervalpli.NewReceiverInterceptor()
	if err != nil {
		return nil, fmt.Errorf("pli interceptor: %w", err)
	}
	registry.Add(pli)

	ctx, cancel := context.WithCancel(context.Background())
	r := &Router{
		id:         id,
		engine:     e,
		media:      media,
		codecs:     codecs,
		relays:     sfu.NewRelayManager(),
		ctx:        ctx,
		cancel:     cancel,
		payloads:   payloads,
		transports: make(map[string]*Transport),
		producers:  make(map[string]*Producer),
	}
	r.api = webrtc.NewAPI(
		webrtc.WithMediaEngine(media),
		webrtc.WithSettingEngine(e.setting),
		webrtc.WithInterceptorRegistry(registry),
	)
	log.Info().Str("module", "rtc").Str("router", id).Int("codecs", len(codecs)).Msg("router created")
	return r, nil
}

func (r *Router) ID() string { return r.id }

func (r *Router) RtpCapabilities() core.RtpCapabilities {
	return core.RtpCapabilities{Codecs: append([]core.RtpCodecCapability(nil), r.codecs...)}
}

func (r *Router) CreateWebRtcTransport(ctx context.Context, opts core.TransportOptions) (core.WebRtcTransport, error) {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return nil, errRouterClosed
	}

	t, err := newTransport(ctx, r, opts.Direction)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		t.Close()
		return nil, errRouterClosed
	}
	r.transports[t.id] = t
	r.mu.Unlock()
	return t, nil
}

func (r *Router) CanConsume(producerID string, caps core.RtpCapabilities) bool {
	p, ok := r.producer(producerID)
	if !ok {
		return false
	}
	for _, c := range caps.Codecs {
		if codecMatches(p.codec, c) {
			return true
		}
	}
	return false
}

// bindPayloadType makes the producer's payload type readable by the
// router's receivers. A payload type already bound to another codec is
// rejected.
func (r *Router) bindPayloadType(codec core.RtpCodecParameters, kind webrtc.RTPCodecType) error {
	pt := webrtc.PayloadType(codec.PayloadType)
	mime := strings.ToLower(codec.MimeType)

	r.mu.Lock()
	defer r.mu.Unlock()
	if bound, ok := r.payloads[pt]; ok {
		if bound != mime {
			return fmt.Errorf("payload type %d already bound to %s", pt, bound)
		}
		return nil
	}
	if err := r.media.RegisterCodec(producerCodecParameters(codec), kind); err != nil {
		return err
	}
	r.payloads[pt] = mime
	return nil
}

func (r *Router) addProducer(p *Producer) {
	r.mu.Lock()
	r.producers[p.id] = p
	r.mu.Unlock()
	r.relays.Open(p.id)
}

func (r *Router) removeProducer(id string) {
	r.mu.Lock()
	delete(r.producers, id)
	r.mu.Unlock()
	r.relays.StopRelay(id)
}

func (r *Router) producer(id string) (*Producer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.producers[id]
	return p, ok
}

func (r *Router) removeTransport(id string) {
	r.mu.Lock()
	delete(r.transports, id)
	r.mu.Unlock()
}

func (r *Router) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	transports := make([]*Transport, 0, len(r.transports))
	for _, t := range r.transports {
		transports = append(transports, t)
	}
	r.mu.Unlock()

	for _, t := range transports {
		t.Close()
	}
	r.relays.StopAll()
	r.cancel()
	r.engine.removeRouter(r.id)
	log.Info().Str("module", "rtc").Str("router", r.id).Msg("router closed")
}
