package core

import (
	"sync"

	"github.com/dkeye/meetsfu/internal/domain"
	"github.com/rs/zerolog/log"
)

// roomImpl is a threadsafe in-memory room.
// It owns the router and, through peerState, every media handle of its peers.
type roomImpl struct {
	room   *domain.Room
	router Router

	mu     sync.RWMutex
	peers  map[SessionID]*peerState
	closed bool
}

func NewRoomService(room *domain.Room, router Router) RoomService {
	return &roomImpl{
		room:   room,
		router: router,
		peers:  make(map[SessionID]*peerState),
	}
}

func (r *roomImpl) Room() *domain.Room { return r.room }
func (r *roomImpl) Router() Router     { return r.router }

func (r *roomImpl) PeerCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

func (r *roomImpl) AddPeer(peerID SessionID, user domain.User) (PeerDTO, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return PeerDTO{}, ErrRoomClosed
	}
	if _, ok := r.peers[peerID]; ok {
		return PeerDTO{}, ErrDuplicatePeer
	}
	p := newPeerState(peerID, user)
	r.peers[peerID] = p
	log.Info().Str("module", "core.room").Str("room", string(r.room.ID)).Str("sid", string(peerID)).Str("user", string(user.ID)).Msg("peer added")
	return p.dto(), nil
}

func (r *roomImpl) Peer(peerID SessionID) (PeerDTO, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.peers[peerID]
	if !ok {
		return PeerDTO{}, false
	}
	return p.dto(), true
}

func (r *roomImpl) RemovePeer(peerID SessionID) bool {
	r.mu.Lock()
	p, ok := r.peers[peerID]
	if ok {
		delete(r.peers, peerID)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	p.release()
	log.Info().Str("module", "core.room").Str("room", string(r.room.ID)).Str("sid", string(peerID)).Msg("peer removed")
	return true
}

func (r *roomImpl) AddTransport(peerID SessionID, t WebRtcTransport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.peers[peerID]
	if !ok {
		return ErrPeerNotFound
	}
	p.transports[t.ID()] = &transportEntry{
		transport: t,
		producers: make(map[string]struct{}),
		consumers: make(map[string]struct{}),
	}
	return nil
}

func (r *roomImpl) Transport(peerID SessionID, transportID string) (WebRtcTransport, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.peers[peerID]
	if !ok {
		return nil, ErrPeerNotFound
	}
	te, ok := p.transports[transportID]
	if !ok {
		return nil, ErrTransportNotFound
	}
	return te.transport, nil
}

func (r *roomImpl) AddProducer(peerID SessionID, transportID string, pr Producer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	te, p, err := r.entryLocked(peerID, transportID)
	if err != nil {
		return err
	}
	p.producers[pr.ID()] = pr
	te.producers[pr.ID()] = struct{}{}
	return nil
}

func (r *roomImpl) AddConsumer(peerID SessionID, transportID string, c Consumer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	te, p, err := r.entryLocked(peerID, transportID)
	if err != nil {
		return err
	}
	p.consumers[c.ID()] = c
	te.consumers[c.ID()] = struct{}{}
	return nil
}

func (r *roomImpl) entryLocked(peerID SessionID, transportID string) (*transportEntry, *peerState, error) {
	p, ok := r.peers[peerID]
	if !ok {
		return nil, nil, ErrPeerNotFound
	}
	te, ok := p.transports[transportID]
	if !ok {
		return nil, nil, ErrTransportNotFound
	}
	return te, p, nil
}

func (r *roomImpl) PeersSnapshot() []PeerDTO {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]PeerDTO, 0, len(r.peers))
	for _, p := range r.peers {
		out = append(out, p.dto())
	}
	return out
}

func (r *roomImpl) OtherProducers(exclude SessionID) []ProducerDTO {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ProducerDTO, 0)
	for sid, p := range r.peers {
		if sid == exclude {
			continue
		}
		for id, pr := range p.producers {
			out = append(out, ProducerDTO{
				ProducerID: id,
				PeerID:     sid,
				UserID:     p.user.ID,
				Username:   p.user.Username,
				Kind:       pr.Kind(),
			})
		}
	}
	return out
}

func (r *roomImpl) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	peers := r.peers
	r.peers = make(map[SessionID]*peerState)
	r.mu.Unlock()

	for _, p := range peers {
		p.release()
	}
	if r.router != nil {
		r.router.Close()
	}
	log.Info().Str("module", "core.room").Str("room", string(r.room.ID)).Int("peers", len(peers)).Msg("room closed")
}
