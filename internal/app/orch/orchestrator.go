package orch

import (
	"context"
	"sync/atomic"

	"github.com/dkeye/meetsfu/internal/app"
	"github.com/dkeye/meetsfu/internal/core"
	"github.com/dkeye/meetsfu/internal/domain"
	"github.com/rs/zerolog/log"
)

// Orchestrator implements the signaling operations on top of the session
// registry and the room registry.
type Orchestrator struct {
	Registry *app.Registry
	Rooms    *app.RoomManager
	Links    domain.MeetingLinks
	Policy   app.Policy

	dropped atomic.Int64
}

func New(registry *app.Registry, rooms *app.RoomManager, links domain.MeetingLinks, policy app.Policy) *Orchestrator {
	return &Orchestrator{Registry: registry, Rooms: rooms, Links: links, Policy: policy}
}

// OnConnect registers a fresh connection. cancel tears it down.
func (o *Orchestrator) OnConnect(sid core.SessionID, sess core.MemberSession, cancel context.CancelFunc) {
	o.Registry.BindSignal(sid, sess, cancel)
}

// OnDisconnect runs the leave path and forgets the connection.
func (o *Orchestrator) OnDisconnect(sid core.SessionID) {
	o.Leave(sid)
	o.Registry.Unbind(sid)
}

func (o *Orchestrator) KickBySID(sid core.SessionID) bool {
	return o.Registry.Cancel(sid)
}

// DroppedEvents counts notifications that could not be queued.
func (o *Orchestrator) DroppedEvents() int64 { return o.dropped.Load() }

func (o *Orchestrator) broadcast(roomID domain.RoomID, except core.SessionID, event string, data any) {
	for _, snap := range o.Registry.MembersOfRoom(roomID) {
		if snap.SID == except {
			continue
		}
		if err := snap.Session.Signal().Notify(event, data); err != nil {
			o.onSendFailure(roomID, snap.SID, snap.Session, event, err)
		}
	}
}

func (o *Orchestrator) onSendFailure(roomID domain.RoomID, sid core.SessionID, sess core.MemberSession, event string, err error) {
	o.dropped.Add(1)
	log.Warn().Err(err).
		Str("module", "orch").
		Str("sid", string(sid)).
		Str("event", event).
		Msg("event dropped")
	if o.Policy == nil {
		return
	}
	room, _ := o.Rooms.Get(roomID)
	switch o.Policy.OnBackPressure(room, sess) {
	case app.KickMember:
		o.KickBySID(sid)
	case app.MarkSlow, app.DropFrame, app.NoAction:
	}
}

// joinedRoom resolves the room sid is bound to. A non-empty requested id
// must match it.
func (o *Orchestrator) joinedRoom(sid core.SessionID, requested domain.RoomID) (domain.RoomID, core.RoomService, error) {
	roomID, _, ok := o.Registry.RoomOf(sid)
	if !ok {
		return "", nil, ErrNotJoined
	}
	if requested != "" && requested != roomID {
		return "", nil, ErrWrongRoom
	}
	room, ok := o.Rooms.Get(roomID)
	if !ok {
		return "", nil, core.ErrRoomNotFound
	}
	return roomID, room, nil
}

// targetRoom resolves requested, falling back to the joined room.
func (o *Orchestrator) targetRoom(sid core.SessionID, requested domain.RoomID) domain.RoomID {
	if requested != "" {
		return requested
	}
	roomID, _, _ := o.Registry.RoomOf(sid)
	return roomID
}

func (o *Orchestrator) Whoami(sid core.SessionID) WhoamiReply {
	reply := WhoamiReply{PeerID: sid}
	sess, ok := o.Registry.GetSession(sid)
	if !ok {
		return reply
	}
	if m := sess.Meta(); m != nil && m.User != nil {
		reply.UserID = m.User.ID
		reply.Username = m.User.Username
	}
	reply.RoomID, _, _ = o.Registry.RoomOf(sid)
	return reply
}
