// Package rtctest provides an in-memory media engine with failure injection.
// It never opens sockets, so registry and protocol tests stay hermetic.
package rtctest

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/dkeye/meetsfu/internal/core"
	"github.com/dkeye/meetsfu/internal/domain"
	"github.com/google/uuid"
)

// Faults are applied to operations started after SetFaults.
type Faults struct {
	CreateRouter error
	Connect      error
	Produce      error
	Consume      error
	DenyConsume  bool
}

type Engine struct {
	mu      sync.Mutex
	faults  Faults
	routers []*Router

	created  atomic.Int32
	dead     chan error
	deadOnce sync.Once
}

var _ core.MediaEngine = (*Engine)(nil)

func NewEngine() *Engine {
	return &Engine{dead: make(chan error, 1)}
}

func (e *Engine) SetFaults(f Faults) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.faults = f
}

func (e *Engine) currentFaults() Faults {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.faults
}

// RoutersCreated counts successful CreateRouter calls.
func (e *Engine) RoutersCreated() int { return int(e.created.Load()) }

func (e *Engine) Routers() []*Router {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Router(nil), e.routers...)
}

func (e *Engine) Kill(err error) {
	e.deadOnce.Do(func() { e.dead <- err })
}

func (e *Engine) Dead() <-chan error { return e.dead }

func (e *Engine) CreateRouter(ctx context.Context, codecs []core.RtpCodecCapability) (core.Router, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := e.currentFaults().CreateRouter; err != nil {
		return nil, err
	}
	r := &Router{
		engine:    e,
		id:        uuid.NewString(),
		caps:      core.RtpCapabilities{Codecs: append([]core.RtpCodecCapability(nil), codecs...)},
		producers: make(map[string]*Producer),
	}
	e.mu.Lock()
	e.routers = append(e.routers, r)
	e.mu.Unlock()
	e.created.Add(1)
	return r, nil
}

type Router struct {
	engine *Engine
	id     string
	caps   core.RtpCapabilities

	mu         sync.Mutex
	producers  map[string]*Producer
	transports []*Transport
	closed     bool
}

func (r *Router) ID() string                            { return r.id }
func (r *Router) RtpCapabilities() core.RtpCapabilities { return r.caps }

func (r *Router) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *Router) Transports() []*Transport {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Transport(nil), r.transports...)
}

func (r *Router) CreateWebRtcTransport(ctx context.Context, opts core.TransportOptions) (core.WebRtcTransport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, core.ErrRoomClosed
	}
	t := &Transport{
		router:    r,
		id:        uuid.NewString(),
		direction: opts.Direction,
	}
	r.transports = append(r.transports, t)
	return t, nil
}

func (r *Router) CanConsume(producerID string, caps core.RtpCapabilities) bool {
	if r.engine.currentFaults().DenyConsume {
		return false
	}
	r.mu.Lock()
	p, ok := r.producers[producerID]
	r.mu.Unlock()
	if !ok || p.Closed() {
		return false
	}
	for _, c := range caps.Codecs {
		if c.Kind == p.kind && strings.EqualFold(c.MimeType, p.mime) {
			return true
		}
	}
	return false
}

func (r *Router) producer(id string) (*Producer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.producers[id]
	if !ok || p.Closed() {
		return nil, false
	}
	return p, true
}

func (r *Router) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	transports := r.transports
	r.mu.Unlock()
	for _, t := range transports {
		t.Close()
	}
}

type Transport struct {
	router    *Router
	id        string
	direction core.TransportDirection

	mu        sync.Mutex
	connected bool
	closed    bool
	producers []*Producer
	consumers []*Consumer
}

func (t *Transport) ID() string { return t.id }

func (t *Transport) Direction() core.TransportDirection { return t.direction }

func (t *Transport) Params() core.TransportParams {
	return core.TransportParams{
		ID:            t.id,
		IceParameters: core.IceParameters{UsernameFragment: "ufrag-" + t.id[:8], Password: "pwd-" + t.id, IceLite: true},
		IceCandidates: []core.IceCandidate{{
			Foundation: "1", Priority: 2130706431, IP: "127.0.0.1", Address: "127.0.0.1",
			Protocol: "udp", Port: 40000, Type: "host",
		}},
		DtlsParameters: core.DtlsParameters{
			Role:         "auto",
			Fingerprints: []core.DtlsFingerprint{{Algorithm: "sha-256", Value: "00:11:22"}},
		},
	}
}

func (t *Transport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

func (t *Transport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *Transport) Connect(ctx context.Context, _ core.DtlsParameters, _ *core.IceParameters) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := t.router.engine.currentFaults().Connect; err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return core.ErrTransportClosed
	}
	if t.connected {
		return core.ErrTransportConnected
	}
	t.connected = true
	return nil
}

func (t *Transport) Produce(ctx context.Context, kind domain.MediaKind, rtp core.RtpParameters) (core.Producer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := t.router.engine.currentFaults().Produce; err != nil {
		return nil, err
	}
	mime := ""
	if len(rtp.Codecs) > 0 {
		mime = rtp.Codecs[0].MimeType
	}
	p := &Producer{id: uuid.NewString(), kind: kind, mime: mime, rtp: rtp}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, core.ErrTransportClosed
	}
	t.producers = append(t.producers, p)
	t.mu.Unlock()

	t.router.mu.Lock()
	t.router.producers[p.id] = p
	t.router.mu.Unlock()
	return p, nil
}

func (t *Transport) Consume(ctx context.Context, producerID string, _ core.RtpCapabilities) (core.Consumer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := t.router.engine.currentFaults().Consume; err != nil {
		return nil, err
	}
	p, ok := t.router.producer(producerID)
	if !ok {
		return nil, core.ErrProducerNotFound
	}
	c := &Consumer{
		id:       uuid.NewString(),
		producer: p.id,
		kind:     p.kind,
		rtp: core.RtpParameters{
			Codecs:    p.rtp.Codecs,
			Encodings: []core.RtpEncodingParameters{{Ssrc: 1111}},
			Rtcp:      &core.RtcpParameters{Cname: p.id[:8]},
		},
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, core.ErrTransportClosed
	}
	t.consumers = append(t.consumers, c)
	return c, nil
}

func (t *Transport) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	producers, consumers := t.producers, t.consumers
	t.mu.Unlock()
	for _, c := range consumers {
		c.Close()
	}
	for _, p := range producers {
		p.Close()
	}
}

type Producer struct {
	id     string
	kind   domain.MediaKind
	mime   string
	rtp    core.RtpParameters
	closed atomic.Bool
}

func (p *Producer) ID() string             { return p.id }
func (p *Producer) Kind() domain.MediaKind { return p.kind }
func (p *Producer) Close()                 { p.closed.Store(true) }
func (p *Producer) Closed() bool           { return p.closed.Load() }

type Consumer struct {
	id       string
	producer string
	kind     domain.MediaKind
	rtp      core.RtpParameters
	closed   atomic.Bool
}

func (c *Consumer) ID() string                        { return c.id }
func (c *Consumer) ProducerID() string                { return c.producer }
func (c *Consumer) Kind() domain.MediaKind            { return c.kind }
func (c *Consumer) RtpParameters() core.RtpParameters { return c.rtp }
func (c *Consumer) Close()                            { c.closed.Store(true) }
func (c *Consumer) Closed() bool                      { return c.closed.Load() }

// Codecs is a minimal router codec set for tests.
func Codecs() []core.RtpCodecCapability {
	return []core.RtpCodecCapability{
		{Kind: domain.MediaKindAudio, MimeType: "audio/opus", PreferredPayloadType: 100, ClockRate: 48000, Channels: 2},
		{Kind: domain.MediaKindVideo, MimeType: "video/VP8", PreferredPayloadType: 101, ClockRate: 90000},
	}
}
