package core

import "github.com/dkeye/meetsfu/internal/domain"

// transportEntry indexes what was created through one transport so the
// teardown order is explicit: consumers, producers, then the transport.
type transportEntry struct {
	transport WebRtcTransport
	producers map[string]struct{}
	consumers map[string]struct{}
}

// peerState is guarded by the owning room's lock.
type peerState struct {
	id   SessionID
	user domain.User

	transports map[string]*transportEntry
	producers  map[string]Producer
	consumers  map[string]Consumer
}

func newPeerState(id SessionID, user domain.User) *peerState {
	return &peerState{
		id:         id,
		user:       user,
		transports: make(map[string]*transportEntry),
		producers:  make(map[string]Producer),
		consumers:  make(map[string]Consumer),
	}
}

func (p *peerState) dto() PeerDTO {
	return PeerDTO{PeerID: p.id, UserID: p.user.ID, Username: p.user.Username}
}

// release must only be called once the peer is unreachable from its room.
func (p *peerState) release() {
	for id, te := range p.transports {
		for cid := range te.consumers {
			if c, ok := p.consumers[cid]; ok {
				c.Close()
				delete(p.consumers, cid)
			}
		}
		for pid := range te.producers {
			if pr, ok := p.producers[pid]; ok {
				pr.Close()
				delete(p.producers, pid)
			}
		}
		te.transport.Close()
		delete(p.transports, id)
	}
}
