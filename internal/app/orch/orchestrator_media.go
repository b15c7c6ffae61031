package orch

import (
	"context"

	"github.com/dkeye/meetsfu/internal/core"
	"github.com/rs/zerolog/log"
)

func (o *Orchestrator) CreateWebRtcTransport(ctx context.Context, sid core.SessionID, req CreateTransportRequest) (core.TransportParams, error) {
	_, room, err := o.joinedRoom(sid, req.RoomID)
	if err != nil {
		return core.TransportParams{}, err
	}
	t, err := room.Router().CreateWebRtcTransport(ctx, core.TransportOptions{Direction: req.Direction})
	if err != nil {
		return core.TransportParams{}, err
	}
	if err := room.AddTransport(sid, t); err != nil {
		t.Close()
		return core.TransportParams{}, err
	}
	log.Debug().Str("module", "orch").Str("sid", string(sid)).Str("transport", t.ID()).Msg("transport created")
	return t.Params(), nil
}

func (o *Orchestrator) ConnectTransport(ctx context.Context, sid core.SessionID, req ConnectTransportRequest) (SuccessReply, error) {
	if req.TransportID == "" || req.DtlsParameters == nil {
		return SuccessReply{}, ErrMissingFields
	}
	_, room, err := o.joinedRoom(sid, req.RoomID)
	if err != nil {
		return SuccessReply{}, err
	}
	t, err := room.Transport(sid, req.TransportID)
	if err != nil {
		return SuccessReply{}, err
	}
	if err := t.Connect(ctx, *req.DtlsParameters, req.IceParameters); err != nil {
		return SuccessReply{}, err
	}
	return SuccessReply{Success: true}, nil
}

// Produce registers a producer and announces it to the rest of the room.
func (o *Orchestrator) Produce(ctx context.Context, sid core.SessionID, req ProduceRequest) (ProduceReply, error) {
	if req.TransportID == "" || req.RtpParameters == nil || req.Kind == "" {
		return ProduceReply{}, ErrMissingFields
	}
	if !req.Kind.Valid() {
		return ProduceReply{}, ErrInvalidKind
	}
	roomID, room, err := o.joinedRoom(sid, req.RoomID)
	if err != nil {
		return ProduceReply{}, err
	}
	t, err := room.Transport(sid, req.TransportID)
	if err != nil {
		return ProduceReply{}, err
	}
	p, err := t.Produce(ctx, req.Kind, *req.RtpParameters)
	if err != nil {
		return ProduceReply{}, err
	}
	if err := room.AddProducer(sid, req.TransportID, p); err != nil {
		p.Close()
		return ProduceReply{}, err
	}

	self, _ := o.Rooms.GetPeer(roomID, sid)
	o.broadcast(roomID, sid, EventNewProducer, NewProducerEvent{
		PeerID:     sid,
		ProducerID: p.ID(),
		Kind:       p.Kind(),
		UserID:     self.UserID,
		Username:   self.Username,
	})
	log.Info().
		Str("module", "orch").
		Str("sid", string(sid)).
		Str("producer", p.ID()).
		Str("kind", string(p.Kind())).
		Msg("producing")
	return ProduceReply{ProducerID: p.ID()}, nil
}

func (o *Orchestrator) Consume(ctx context.Context, sid core.SessionID, req ConsumeRequest) (ConsumeReply, error) {
	if req.TransportID == "" || req.ProducerID == "" || req.RtpCapabilities == nil {
		return ConsumeReply{}, ErrMissingFields
	}
	_, room, err := o.joinedRoom(sid, req.RoomID)
	if err != nil {
		return ConsumeReply{}, err
	}
	t, err := room.Transport(sid, req.TransportID)
	if err != nil {
		return ConsumeReply{}, err
	}
	if !room.Router().CanConsume(req.ProducerID, *req.RtpCapabilities) {
		return ConsumeReply{}, core.ErrCannotConsume
	}
	c, err := t.Consume(ctx, req.ProducerID, *req.RtpCapabilities)
	if err != nil {
		return ConsumeReply{}, err
	}
	if err := room.AddConsumer(sid, req.TransportID, c); err != nil {
		c.Close()
		return ConsumeReply{}, err
	}
	return ConsumeReply{
		ID:            c.ID(),
		ProducerID:    c.ProducerID(),
		Kind:          c.Kind(),
		RtpParameters: c.RtpParameters(),
	}, nil
}
