package core

import (
	"sync"

	"github.com/dkeye/meetsfu/internal/domain"
)

// memberSession implements MemberSession by pairing meta + transport.
type memberSession struct {
	mu     sync.RWMutex
	meta   *domain.Member
	signal SignalConnection
	token  string
}

func NewMemberSession(signal SignalConnection, clientToken string) MemberSession {
	return &memberSession{signal: signal, token: clientToken}
}

func (m *memberSession) Meta() *domain.Member {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.meta
}

func (m *memberSession) UpdateMeta(meta *domain.Member) MemberSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.meta = meta
	return m
}

func (m *memberSession) Signal() SignalConnection { return m.signal }
func (m *memberSession) ClientToken() string      { return m.token }
