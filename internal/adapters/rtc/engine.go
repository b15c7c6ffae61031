// Package rtc implements the media engine on the pion/webrtc ORTC API.
// Each room gets a router with its own webrtc.API, so codec payload types
// never leak between rooms.
package rtc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/dkeye/meetsfu/internal/core"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var errEngineClosed = errors.New("media engine closed")

type Config struct {
	// ListenIP restricts host candidates to one local address.
	ListenIP string
	// AnnouncedIP replaces host candidate addresses (NAT 1:1).
	AnnouncedIP string
	UDPPortMin  uint16
	UDPPortMax  uint16
	// UDPPort switches to a single muxed UDP socket when non-zero.
	UDPPort    int
	ICEServers []string
	ICELite    bool
}

type Engine struct {
	cfg        Config
	setting    webrtc.SettingEngine
	iceServers []webrtc.ICEServer
	mux        *watchedConn

	dead     chan error
	deadOnce sync.Once

	mu      sync.Mutex
	routers map[string]*Router
	closed  bool
}

func NewEngine(cfg Config) (*Engine, error) {
	e := &Engine{
		cfg:     cfg,
		dead:    make(chan error, 1),
		routers: make(map[string]*Router),
	}

	se := webrtc.SettingEngine{}
	se.SetLite(cfg.ICELite)
	se.SetNetworkTypes([]webrtc.NetworkType{webrtc.NetworkTypeUDP4})
	if cfg.AnnouncedIP != "" {
		se.SetNAT1To1IPs([]string{cfg.AnnouncedIP}, webrtc.ICECandidateTypeHost)
	}
	if cfg.ListenIP != "" && cfg.ListenIP != "0.0.0.0" {
		listen := net.ParseIP(cfg.ListenIP)
		if listen == nil {
			return nil, fmt.Errorf("invalid listen ip %q", cfg.ListenIP)
		}
		se.SetIPFilter(func(ip net.IP) bool { return ip.Equal(listen) })
	}

	if cfg.UDPPort > 0 {
		conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.ParseIP(cfg.ListenIP), Port: cfg.UDPPort})
		if err != nil {
			return nil, fmt.Errorf("listen udp %d: %w", cfg.UDPPort, err)
		}
		e.mux = &watchedConn{PacketConn: conn, onFail: e.fail}
		se.SetICEUDPMux(webrtc.NewICEUDPMux(nil, e.mux))
	} else if cfg.UDPPortMin != 0 || cfg.UDPPortMax != 0 {
		if err := se.SetEphemeralUDPPortRange(cfg.UDPPortMin, cfg.UDPPortMax); err != nil {
			return nil, fmt.Errorf("udp port range: %w", err)
		}
	}
	e.setting = se

	if !cfg.ICELite {
		for _, url := range cfg.ICEServers {
			e.iceServers = append(e.iceServers, webrtc.ICEServer{URLs: []string{url}})
		}
	}

	log.Info().
		Str("module", "rtc").
		Bool("ice_lite", cfg.ICELite).
		Str("announced_ip", cfg.AnnouncedIP).
		Int("udp_port", cfg.UDPPort).
		Uint16("udp_port_min", cfg.UDPPortMin).
		Uint16("udp_port_max", cfg.UDPPortMax).
		Msg("media engine ready")
	return e, nil
}

func (e *Engine) CreateRouter(ctx context.Context, codecs []core.RtpCodecCapability) (core.Router, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r, err := newRouter(e, uuid.NewString(), codecs)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		// Close re-enters e.mu through removeRouter.
		r.Close()
		return nil, errEngineClosed
	}
	e.routers[r.id] = r
	e.mu.Unlock()
	return r, nil
}

func (e *Engine) Dead() <-chan error { return e.dead }

func (e *Engine) fail(err error) {
	e.deadOnce.Do(func() {
		log.Error().Err(err).Str("module", "rtc").Msg("media engine failed")
		e.dead <- err
	})
}

func (e *Engine) removeRouter(id string) {
	e.mu.Lock()
	delete(e.routers, id)
	e.mu.Unlock()
}

// Close closes every router and the shared UDP socket.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	routers := make([]*Router, 0, len(e.routers))
	for _, r := range e.routers {
		routers = append(routers, r)
	}
	e.mu.Unlock()

	for _, r := range routers {
		r.Close()
	}
	if e.mux != nil {
		e.mux.closing.Store(true)
		_ = e.mux.Close()
	}
}

// watchedConn reports the first read error that was not caused by Close.
// Every transport shares this socket, so losing it loses all media.
type watchedConn struct {
	net.PacketConn
	closing atomic.Bool
	onFail  func(error)
}

func (c *watchedConn) ReadFrom(p []byte) (int, net.Addr, error) {
	n, addr, err := c.PacketConn.ReadFrom(p)
	if err != nil && !c.closing.Load() {
		c.onFail(fmt.Errorf("udp mux: %w", err))
	}
	return n, addr, err
}
