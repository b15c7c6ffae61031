package sfu

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// RelayManager owns the relays of one router, keyed by producer id.
// A relay exists from Produce on; its source is attached once the
// remote track starts flowing.
type RelayManager struct {
	mu     sync.RWMutex
	relays map[string]*Relay
}

func NewRelayManager() *RelayManager {
	return &RelayManager{
		relays: make(map[string]*Relay),
	}
}

// Open registers an idle relay for producerID.
func (m *RelayManager) Open(producerID string) *Relay {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.relays[producerID]; ok {
		return r
	}
	r := NewRelay(producerID)
	m.relays[producerID] = r
	return r
}

// StartRelay attaches src to the relay of producerID and starts its loop.
func (m *RelayManager) StartRelay(ctx context.Context, producerID string, src RTPSource) bool {
	logger := log.With().
		Str("module", "relay").
		Str("producer", producerID).
		Logger()

	m.mu.Lock()
	relay, ok := m.relays[producerID]
	if !ok {
		m.mu.Unlock()
		logger.Warn().Msg("no relay registered for producer")
		return false
	}
	if relay.cancel != nil {
		logger.Info().Msg("replacing relay source")
		relay.cancel()
	}
	relayCtx, cancel := context.WithCancel(ctx)
	relay.cancel = cancel
	m.mu.Unlock()

	logger.Info().Msg("starting relay loop")
	go relay.loop(relayCtx, src, &logger)
	return true
}

// AddSubscriber attaches sink to the relay of producerID under consumerID.
func (m *RelayManager) AddSubscriber(producerID, consumerID string, sink RTPSink) bool {
	m.mu.RLock()
	relay, ok := m.relays[producerID]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	return relay.AddOutTrack(consumerID, NewOutTrack(sink))
}

// MarkSubscriberDelete marks the consumer's OutTrack as TrackStateDelete.
func (m *RelayManager) MarkSubscriberDelete(producerID, consumerID string) {
	m.mu.RLock()
	relay, ok := m.relays[producerID]
	m.mu.RUnlock()
	if !ok {
		return
	}
	if ot, ok := relay.OutTrack(consumerID); ok {
		ot.MarkDelete()
	}
}

// StopRelay stops a relay and removes it from the manager.
func (m *RelayManager) StopRelay(producerID string) {
	m.mu.Lock()
	relay, ok := m.relays[producerID]
	var cancel context.CancelFunc
	if ok {
		delete(m.relays, producerID)
		cancel = relay.cancel
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	relay.markAllDelete()
	if cancel != nil {
		cancel()
	}
}

// StopAll stops every relay; used when the router closes.
func (m *RelayManager) StopAll() {
	m.mu.Lock()
	relays := m.relays
	m.relays = make(map[string]*Relay)
	cancels := make([]context.CancelFunc, 0, len(relays))
	for _, r := range relays {
		if r.cancel != nil {
			cancels = append(cancels, r.cancel)
		}
	}
	m.mu.Unlock()
	for _, r := range relays {
		r.markAllDelete()
	}
	for _, cancel := range cancels {
		cancel()
	}
}
