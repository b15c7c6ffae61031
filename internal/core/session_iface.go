package core

import "github.com/dkeye/meetsfu/internal/domain"

// SessionID identifies one signaling connection; it is also the peer id.
type SessionID string

// MemberSession binds domain.Member and its transport endpoint.
// This is what the registry stores and fans out to.
type MemberSession interface {
	Meta() *domain.Member
	Signal() SignalConnection
	ClientToken() string
	UpdateMeta(*domain.Member) MemberSession
}
