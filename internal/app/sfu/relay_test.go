package sfu

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
)

type chanSource struct {
	ch chan *rtp.Packet
}

func (s *chanSource) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	p, ok := <-s.ch
	if !ok {
		return nil, nil, io.EOF
	}
	return p, nil, nil
}

type sink struct {
	mu   sync.Mutex
	got  []uint16
	fail error
}

func (s *sink) WriteRTP(p *rtp.Packet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.got = append(s.got, p.SequenceNumber)
	return nil
}

func (s *sink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.got)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRelayForwardsToSubscribers(t *testing.T) {
	m := NewRelayManager()
	m.Open("p1")
	a, b := &sink{}, &sink{}
	if !m.AddSubscriber("p1", "c1", a) || !m.AddSubscriber("p1", "c2", b) {
		t.Fatal("AddSubscriber failed on open relay")
	}

	src := &chanSource{ch: make(chan *rtp.Packet)}
	if !m.StartRelay(context.Background(), "p1", src) {
		t.Fatal("StartRelay failed")
	}
	for i := range 3 {
		src.ch <- &rtp.Packet{Header: rtp.Header{SequenceNumber: uint16(i)}}
	}
	waitFor(t, func() bool { return a.count() == 3 && b.count() == 3 })

	m.MarkSubscriberDelete("p1", "c2")
	src.ch <- &rtp.Packet{Header: rtp.Header{SequenceNumber: 3}}
	waitFor(t, func() bool { return a.count() == 4 })
	if b.count() != 3 {
		t.Fatalf("removed consumer received %d packets, want 3", b.count())
	}
	close(src.ch)
}

func TestRelayDropsFailingSink(t *testing.T) {
	m := NewRelayManager()
	relay := m.Open("p1")
	bad := &sink{fail: errors.New("closed pipe")}
	m.AddSubscriber("p1", "c1", bad)

	src := &chanSource{ch: make(chan *rtp.Packet)}
	m.StartRelay(context.Background(), "p1", src)
	src.ch <- &rtp.Packet{}
	waitFor(t, func() bool {
		_, ok := relay.OutTrack("c1")
		return !ok
	})
	close(src.ch)
}

func TestStopRelayRejectsNewSubscribers(t *testing.T) {
	m := NewRelayManager()
	relay := m.Open("p1")
	s := &sink{}
	m.AddSubscriber("p1", "c1", s)
	m.StopRelay("p1")

	if ot, ok := relay.OutTrack("c1"); !ok || ot.GetState() != TrackStateDelete {
		t.Fatal("existing out track not marked for delete")
	}
	if m.AddSubscriber("p1", "c2", s) {
		t.Fatal("AddSubscriber succeeded after StopRelay")
	}
	if relay.AddOutTrack("c3", NewOutTrack(s)) {
		t.Fatal("AddOutTrack succeeded on stopped relay")
	}
}

func TestStartRelayWithoutOpen(t *testing.T) {
	m := NewRelayManager()
	if m.StartRelay(context.Background(), "ghost", &chanSource{ch: make(chan *rtp.Packet)}) {
		t.Fatal("StartRelay succeeded without Open")
	}
}
