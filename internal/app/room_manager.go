package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/meetsfu/internal/core"
	"github.com/dkeye/meetsfu/internal/domain"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// RoomManager is the process-wide room registry. Each room serializes its
// own mutations; the manager lock only guards the room map.
type RoomManager struct {
	engine core.MediaEngine
	codecs []core.RtpCodecCapability
	links  domain.MeetingLinks

	mu    sync.RWMutex
	rooms map[domain.RoomID]core.RoomService

	creating singleflight.Group
}

func NewRoomManager(engine core.MediaEngine, codecs []core.RtpCodecCapability, links domain.MeetingLinks) *RoomManager {
	return &RoomManager{
		engine: engine,
		codecs: codecs,
		links:  links,
		rooms:  make(map[domain.RoomID]core.RoomService),
	}
}

func (m *RoomManager) Get(id domain.RoomID) (core.RoomService, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	room, ok := m.rooms[id]
	return room, ok
}

// GetOrCreate creates the room and its router at most once per id.
func (m *RoomManager) GetOrCreate(ctx context.Context, id domain.RoomID) (core.RoomService, error) {
	if room, ok := m.Get(id); ok {
		return room, nil
	}
	v, err, _ := m.creating.Do(string(id), func() (any, error) {
		if room, ok := m.Get(id); ok {
			return room, nil
		}
		router, err := m.engine.CreateRouter(ctx, m.codecs)
		if err != nil {
			return nil, fmt.Errorf("create router: %w", err)
		}
		room := core.NewRoomService(&domain.Room{ID: id, CreatedAt: m.links.Clock()}, router)

		m.mu.Lock()
		m.rooms[id] = room
		m.mu.Unlock()
		log.Info().Str("module", "app.rooms").Str("room", string(id)).Str("router", router.ID()).Msg("room created")
		return room, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(core.RoomService), nil
}

func (m *RoomManager) AddPeer(roomID domain.RoomID, peerID core.SessionID, user domain.User) (core.PeerDTO, error) {
	room, ok := m.Get(roomID)
	if !ok {
		return core.PeerDTO{}, core.ErrRoomNotFound
	}
	return room.AddPeer(peerID, user)
}

func (m *RoomManager) GetPeer(roomID domain.RoomID, peerID core.SessionID) (core.PeerDTO, bool) {
	room, ok := m.Get(roomID)
	if !ok {
		return core.PeerDTO{}, false
	}
	return room.Peer(peerID)
}

// RemovePeer leaves the emptied room in place.
func (m *RoomManager) RemovePeer(roomID domain.RoomID, peerID core.SessionID) bool {
	room, ok := m.Get(roomID)
	if !ok {
		return false
	}
	return room.RemovePeer(peerID)
}

func (m *RoomManager) ListOtherProducers(roomID domain.RoomID, exclude core.SessionID) ([]core.ProducerDTO, error) {
	room, ok := m.Get(roomID)
	if !ok {
		return nil, core.ErrRoomNotFound
	}
	return room.OtherProducers(exclude), nil
}

func (m *RoomManager) ListPeers(roomID domain.RoomID) ([]core.PeerDTO, error) {
	room, ok := m.Get(roomID)
	if !ok {
		return nil, core.ErrRoomNotFound
	}
	return room.PeersSnapshot(), nil
}

func (m *RoomManager) RouterCapabilities(roomID domain.RoomID) (core.RtpCapabilities, bool) {
	room, ok := m.Get(roomID)
	if !ok {
		return core.RtpCapabilities{}, false
	}
	return room.Router().RtpCapabilities(), true
}

// Delete removes the room and closes its router.
func (m *RoomManager) Delete(id domain.RoomID) bool {
	m.mu.Lock()
	room, ok := m.rooms[id]
	delete(m.rooms, id)
	m.mu.Unlock()
	if !ok {
		return false
	}
	room.Close()
	log.Info().Str("module", "app.rooms").Str("room", string(id)).Msg("room deleted")
	return true
}

func (m *RoomManager) List() []core.RoomInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]core.RoomInfo, 0, len(m.rooms))
	for id, r := range m.rooms {
		out = append(out, core.RoomInfo{ID: id, PeerCount: r.PeerCount(), CreatedAt: r.Room().CreatedAt})
	}
	return out
}

func (m *RoomManager) Stats() (rooms, peers int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.rooms {
		peers += r.PeerCount()
	}
	return len(m.rooms), peers
}

// ReapExpired deletes rooms that are empty and can no longer be joined.
func (m *RoomManager) ReapExpired() []domain.RoomID {
	m.mu.Lock()
	var reaped []core.RoomService
	for id, r := range m.rooms {
		if r.PeerCount() == 0 && m.links.IsExpired(id) {
			delete(m.rooms, id)
			reaped = append(reaped, r)
		}
	}
	m.mu.Unlock()

	ids := make([]domain.RoomID, 0, len(reaped))
	for _, r := range reaped {
		r.Close()
		ids = append(ids, r.Room().ID)
	}
	if len(ids) > 0 {
		log.Info().Str("module", "app.rooms").Int("count", len(ids)).Msg("reaped expired rooms")
	}
	return ids
}

// RunJanitor calls ReapExpired every interval until ctx is done.
func (m *RoomManager) RunJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.ReapExpired()
		}
	}
}

// Close deletes every room; used on shutdown.
func (m *RoomManager) Close() {
	m.mu.Lock()
	rooms := m.rooms
	m.rooms = make(map[domain.RoomID]core.RoomService)
	m.mu.Unlock()
	for _, r := range rooms {
		r.Close()
	}
}
