package rtc

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/dkeye/meetsfu/internal/core"
	"github.com/dkeye/meetsfu/internal/domain"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	errNoCodecs    = errors.New("rtpParameters.codecs is empty")
	errNoSsrc      = errors.New("rtpParameters.encodings[0].ssrc is required")
	errNoEncodings = errors.New("sender has no encodings")
)

// Transport is one ICE+DTLS association. Connect returns once the remote
// parameters are accepted; ICE and the DTLS handshake run in the
// background and media starts when ready is closed.
type Transport struct {
	id        string
	router    *Router
	direction core.TransportDirection
	logger    zerolog.Logger

	gatherer *webrtc.ICEGatherer
	ice      *webrtc.ICETransport
	dtls     *webrtc.DTLSTransport
	params   core.TransportParams

	ready  chan struct{}
	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	connecting bool
	closed     bool
	producers  map[string]*Producer
	consumers  map[string]*Consumer
	mids       int
}

func newTransport(ctx context.Context, r *Router, direction core.TransportDirection) (*Transport, error) {
	gatherer, err := r.api.NewICEGatherer(webrtc.ICEGatherOptions{ICEServers: r.engine.iceServers})
	if err != nil {
		return nil, fmt.Errorf("ice gatherer: %w", err)
	}
	iceTransport := r.api.NewICETransport(gatherer)
	dtls, err := r.api.NewDTLSTransport(iceTransport, nil)
	if err != nil {
		_ = gatherer.Close()
		return nil, fmt.Errorf("dtls transport: %w", err)
	}

	tctx, cancel := context.WithCancel(r.ctx)
	t := &Transport{
		id:        uuid.NewString(),
		router:    r,
		direction: direction,
		gatherer:  gatherer,
		ice:       iceTransport,
		dtls:      dtls,
		ready:     make(chan struct{}),
		ctx:       tctx,
		cancel:    cancel,
		producers: make(map[string]*Producer),
		consumers: make(map[string]*Consumer),
	}
	t.logger = log.With().Str("module", "rtc").Str("router", r.id).Str("transport", t.id).Logger()

	if err := t.gather(ctx); err != nil {
		t.stop()
		return nil, err
	}
	return t, nil
}

func (t *Transport) gather(ctx context.Context) error {
	done := make(chan struct{})
	var once sync.Once
	t.gatherer.OnLocalCandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			once.Do(func() { close(done) })
		}
	})
	if err := t.gatherer.Gather(); err != nil {
		return fmt.Errorf("gather: %w", err)
	}
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	iceParams, err := t.gatherer.GetLocalParameters()
	if err != nil {
		return err
	}
	cands, err := t.gatherer.GetLocalCandidates()
	if err != nil {
		return err
	}
	dtlsParams, err := t.dtls.GetLocalParameters()
	if err != nil {
		return err
	}
	t.params = core.TransportParams{
		ID:             t.id,
		IceParameters:  iceParamsToCore(iceParams),
		IceCandidates:  candidatesToCore(cands),
		DtlsParameters: dtlsParamsToCore(dtlsParams),
	}
	t.logger.Debug().Int("candidates", len(cands)).Msg("gathered")
	return nil
}

func (t *Transport) ID() string { return t.id }

func (t *Transport) Params() core.TransportParams { return t.params }

func (t *Transport) Connect(ctx context.Context, dtls core.DtlsParameters, ice *core.IceParameters) error {
	remoteDTLS, err := dtlsParamsFromCore(dtls)
	if err != nil {
		return err
	}
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return core.ErrTransportClosed
	}
	if t.connecting {
		t.mu.Unlock()
		return core.ErrTransportConnected
	}
	t.connecting = true
	t.mu.Unlock()

	if ice == nil {
		t.logger.Warn().Msg("connect without remote ice parameters, connectivity checks will fail")
	}
	go t.start(iceParamsFromCore(ice), remoteDTLS)
	return nil
}

func (t *Transport) start(remoteICE webrtc.ICEParameters, remoteDTLS webrtc.DTLSParameters) {
	role := webrtc.ICERoleControlled
	if err := t.ice.Start(nil, remoteICE, &role); err != nil {
		t.logger.Error().Err(err).Msg("ice start failed")
		t.Close()
		return
	}
	if err := t.dtls.Start(remoteDTLS); err != nil {
		t.logger.Error().Err(err).Msg("dtls start failed")
		t.Close()
		return
	}
	close(t.ready)
	t.logger.Info().Str("direction", string(t.direction)).Msg("transport connected")
}

// waitReady blocks until media can flow or the transport is gone.
func (t *Transport) waitReady(ctx context.Context) bool {
	select {
	case <-t.ready:
		return true
	case <-ctx.Done():
		return false
	}
}

func (t *Transport) Produce(ctx context.Context, kind domain.MediaKind, rtp core.RtpParameters) (core.Producer, error) {
	if len(rtp.Codecs) == 0 {
		return nil, errNoCodecs
	}
	codec := rtp.Codecs[0]
	if kindOfMime(codec.MimeType) != kind {
		return nil, fmt.Errorf("codec %s does not match kind %s", codec.MimeType, kind)
	}
	if _, ok := routerCodec(t.router.codecs, codec.MimeType); !ok {
		return nil, fmt.Errorf("unsupported codec %s", codec.MimeType)
	}
	if len(rtp.Encodings) == 0 || rtp.Encodings[0].Ssrc == 0 {
		return nil, errNoSsrc
	}
	if err := t.router.bindPayloadType(codec, codecType(kind)); err != nil {
		return nil, err
	}
	receiver, err := t.router.api.NewRTPReceiver(codecType(kind), t.dtls)
	if err != nil {
		return nil, err
	}

	p := newProducer(t, kind, codec, rtp.Encodings[0].Ssrc, receiver)
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		_ = receiver.Stop()
		return nil, core.ErrTransportClosed
	}
	t.producers[p.id] = p
	t.mu.Unlock()

	t.router.addProducer(p)
	go p.run()
	return p, nil
}

func (t *Transport) Consume(ctx context.Context, producerID string, caps core.RtpCapabilities) (core.Consumer, error) {
	p, ok := t.router.producer(producerID)
	if !ok {
		return nil, core.ErrProducerNotFound
	}
	rc, ok := routerCodec(t.router.codecs, p.codec.MimeType)
	if !ok {
		return nil, fmt.Errorf("unsupported codec %s", p.codec.MimeType)
	}

	id := uuid.NewString()
	track, err := webrtc.NewTrackLocalStaticRTP(toCapability(rc), id, "meetsfu-"+producerID)
	if err != nil {
		return nil, err
	}
	sender, err := t.router.api.NewRTPSender(track, t.dtls)
	if err != nil {
		return nil, err
	}
	send := sender.GetParameters()
	if len(send.Encodings) == 0 {
		_ = sender.Stop()
		return nil, errNoEncodings
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		_ = sender.Stop()
		return nil, core.ErrTransportClosed
	}
	mid := strconv.Itoa(t.mids)
	t.mids++
	c := &Consumer{
		id:        id,
		producer:  p,
		transport: t,
		sender:    sender,
		rtp: core.RtpParameters{
			Mid: mid,
			Codecs: []core.RtpCodecParameters{{
				MimeType:     rc.MimeType,
				PayloadType:  rc.PreferredPayloadType,
				ClockRate:    rc.ClockRate,
				Channels:     rc.Channels,
				Parameters:   rc.Parameters,
				RtcpFeedback: rc.RtcpFeedback,
			}},
			Encodings: []core.RtpEncodingParameters{{Ssrc: uint32(send.Encodings[0].SSRC)}},
			Rtcp:      &core.RtcpParameters{Cname: "meetsfu-" + producerID, ReducedSize: true},
		},
	}
	t.consumers[id] = c
	t.mu.Unlock()

	if !t.router.relays.AddSubscriber(producerID, id, track) {
		c.Close()
		return nil, core.ErrProducerNotFound
	}
	go c.run()
	return c, nil
}

func (t *Transport) removeProducer(id string) {
	t.mu.Lock()
	delete(t.producers, id)
	t.mu.Unlock()
}

func (t *Transport) removeConsumer(id string) {
	t.mu.Lock()
	delete(t.consumers, id)
	t.mu.Unlock()
}

func (t *Transport) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	consumers := make([]*Consumer, 0, len(t.consumers))
	for _, c := range t.consumers {
		consumers = append(consumers, c)
	}
	producers := make([]*Producer, 0, len(t.producers))
	for _, p := range t.producers {
		producers = append(producers, p)
	}
	t.mu.Unlock()

	for _, c := range consumers {
		c.Close()
	}
	for _, p := range producers {
		p.Close()
	}
	t.stop()
	t.router.removeTransport(t.id)
	t.logger.Debug().Msg("transport closed")
}

func (t *Transport) stop() {
	t.cancel()
	if err := t.dtls.Stop(); err != nil {
		t.logger.Debug().Err(err).Msg("dtls stop")
	}
	if err := t.ice.Stop(); err != nil {
		t.logger.Debug().Err(err).Msg("ice stop")
	}
	if err := t.gatherer.Close(); err != nil {
		t.logger.Debug().Err(err).Msg("gatherer close")
	}
}
