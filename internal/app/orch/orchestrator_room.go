package orch

import (
	"context"

	"github.com/dkeye/meetsfu/internal/core"
	"github.com/dkeye/meetsfu/internal/domain"
	"github.com/rs/zerolog/log"
)

// CreateRoom mints a fresh meeting link and eagerly creates its room.
func (o *Orchestrator) CreateRoom(ctx context.Context) (CreateRoomReply, error) {
	id := o.Links.Generate()
	if _, err := o.Rooms.GetOrCreate(ctx, id); err != nil {
		return CreateRoomReply{}, err
	}
	log.Info().Str("module", "orch").Str("room", string(id)).Msg("room created by request")
	return CreateRoomReply{RoomID: id}, nil
}

// JoinRoom validates the link, registers the peer and notifies the room.
// A session already in a room leaves it first.
func (o *Orchestrator) JoinRoom(ctx context.Context, sid core.SessionID, req JoinRequest) (JoinReply, error) {
	if req.RoomID == "" || req.UserID == "" || req.Username == "" {
		return JoinReply{}, ErrMissingFields
	}
	if o.Links.IsExpired(req.RoomID) {
		return JoinReply{}, domain.ErrLinkExpired
	}
	user, err := domain.NewUser(req.UserID, req.Username)
	if err != nil {
		return JoinReply{}, err
	}
	sess, ok := o.Registry.GetSession(sid)
	if !ok {
		return JoinReply{}, ErrSessionGone
	}
	if prev, _, joined := o.Registry.RoomOf(sid); joined {
		o.Leave(sid)
		log.Info().Str("module", "orch").Str("sid", string(sid)).Str("from_room", string(prev)).Msg("left previous room")
	}

	if _, err := o.Rooms.GetOrCreate(ctx, req.RoomID); err != nil {
		return JoinReply{}, err
	}
	self, err := o.Rooms.AddPeer(req.RoomID, sid, *user)
	if err != nil {
		return JoinReply{}, err
	}
	sess.UpdateMeta(domain.NewMember(user, o.Links.Clock()))
	if !o.Registry.UpdateRoom(sid, req.RoomID) {
		o.Rooms.RemovePeer(req.RoomID, sid)
		return JoinReply{}, ErrSessionGone
	}

	peers, err := o.Rooms.ListPeers(req.RoomID)
	if err != nil {
		o.Leave(sid)
		return JoinReply{}, err
	}
	roster := make([]core.PeerDTO, 0, len(peers))
	for _, p := range peers {
		if p.PeerID != sid {
			roster = append(roster, p)
		}
	}

	o.broadcast(req.RoomID, sid, EventNewPeer, self)
	log.Info().
		Str("module", "orch").
		Str("sid", string(sid)).
		Str("room", string(req.RoomID)).
		Str("user", string(user.ID)).
		Int("peers", len(roster)).
		Msg("joined room")
	return JoinReply{Success: true, PeerID: sid, Peers: roster}, nil
}

func (o *Orchestrator) RouterRtpCapabilities(sid core.SessionID, req RoomRequest) (CapabilitiesReply, error) {
	roomID := o.targetRoom(sid, req.RoomID)
	if roomID == "" {
		return CapabilitiesReply{}, ErrMissingFields
	}
	caps, ok := o.Rooms.RouterCapabilities(roomID)
	if !ok {
		return CapabilitiesReply{}, core.ErrRoomNotFound
	}
	return CapabilitiesReply{RtpCapabilities: caps}, nil
}

// GetProducers lists every producer in the room except the caller's own.
func (o *Orchestrator) GetProducers(sid core.SessionID, req RoomRequest) (ProducersReply, error) {
	roomID := o.targetRoom(sid, req.RoomID)
	if roomID == "" {
		return ProducersReply{}, ErrMissingFields
	}
	list, err := o.Rooms.ListOtherProducers(roomID, sid)
	if err != nil {
		return ProducersReply{}, err
	}
	return ProducersReply{Producers: list}, nil
}

// Leave releases the peer's media and notifies the room exactly once,
// however many times it races with itself.
func (o *Orchestrator) Leave(sid core.SessionID) bool {
	roomID, ok := o.Registry.RemoveRoom(sid)
	if !ok {
		return false
	}
	o.Rooms.RemovePeer(roomID, sid)
	o.broadcast(roomID, sid, EventPeerLeft, PeerLeftEvent{PeerID: sid})
	log.Info().Str("module", "orch").Str("sid", string(sid)).Str("room", string(roomID)).Msg("left room")
	return true
}

// EvictRoom notifies and removes every member, then deletes the room.
func (o *Orchestrator) EvictRoom(roomID domain.RoomID) bool {
	for _, snap := range o.Registry.MembersOfRoom(roomID) {
		if err := snap.Session.Signal().Notify(EventRoomClosed, RoomClosedEvent{RoomID: roomID}); err != nil {
			o.dropped.Add(1)
		}
		o.Leave(snap.SID)
	}
	return o.Rooms.Delete(roomID)
}
