package sfu

import (
	"sync/atomic"

	"github.com/pion/rtp"
)

type TrackState int32

const (
	TrackStateOk TrackState = iota
	TrackStateDelete
)

// RTPSink is satisfied by *webrtc.TrackLocalStaticRTP.
type RTPSink interface {
	WriteRTP(p *rtp.Packet) error
}

// OutTrack represents a single outgoing track to a consumer.
type OutTrack struct {
	Track RTPSink
	state atomic.Int32 // Zero by default (TrackStateOk)
}

func NewOutTrack(track RTPSink) *OutTrack {
	return &OutTrack{Track: track}
}

func (ot *OutTrack) GetState() TrackState {
	return TrackState(ot.state.Load())
}

func (ot *OutTrack) MarkDelete() {
	ot.state.Store(int32(TrackStateDelete))
}
