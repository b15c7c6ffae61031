package orch_test

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/meetsfu/internal/adapters/rtc/rtctest"
	"github.com/dkeye/meetsfu/internal/app"
	"github.com/dkeye/meetsfu/internal/app/orch"
	"github.com/dkeye/meetsfu/internal/core"
	"github.com/dkeye/meetsfu/internal/domain"
)

type event struct {
	name string
	data any
}

type recorder struct {
	mu     sync.Mutex
	events []event
	fail   error
}

func (r *recorder) Notify(name string, data any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	r.events = append(r.events, event{name, data})
	return nil
}

func (r *recorder) Close() {}

func (r *recorder) named(name string) []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []any
	for _, e := range r.events {
		if e.name == name {
			out = append(out, e.data)
		}
	}
	return out
}

type client struct {
	sid    core.SessionID
	rec    *recorder
	ctx    context.Context
	cancel context.CancelFunc
}

type harness struct {
	o      *orch.Orchestrator
	engine *rtctest.Engine
	now    time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{engine: rtctest.NewEngine(), now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	links := domain.MeetingLinks{Now: func() time.Time { return h.now }}
	rooms := app.NewRoomManager(h.engine, rtctest.Codecs(), links)
	h.o = orch.New(app.NewRegistry(), rooms, links, app.SimplePolicy{})
	return h
}

func (h *harness) connect(sid core.SessionID) *client {
	c := &client{sid: sid, rec: &recorder{}}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	h.o.OnConnect(sid, core.NewMemberSession(c.rec, "token-"+string(sid)), c.cancel)
	return c
}

func (h *harness) join(t *testing.T, c *client, roomID domain.RoomID, uid domain.UserID, name string) orch.JoinReply {
	t.Helper()
	reply, err := h.o.JoinRoom(context.Background(), c.sid, orch.JoinRequest{RoomID: roomID, UserID: uid, Username: name})
	if err != nil {
		t.Fatalf("JoinRoom(%s): %v", c.sid, err)
	}
	return reply
}

func (h *harness) produce(t *testing.T, c *client, kind domain.MediaKind, mime string) string {
	t.Helper()
	ctx := context.Background()
	params, err := h.o.CreateWebRtcTransport(ctx, c.sid, orch.CreateTransportRequest{Direction: core.DirectionSend})
	if err != nil {
		t.Fatalf("CreateWebRtcTransport: %v", err)
	}
	if _, err := h.o.ConnectTransport(ctx, c.sid, orch.ConnectTransportRequest{
		TransportID:    params.ID,
		DtlsParameters: &params.DtlsParameters,
	}); err != nil {
		t.Fatalf("ConnectTransport: %v", err)
	}
	reply, err := h.o.Produce(ctx, c.sid, orch.ProduceRequest{
		TransportID:   params.ID,
		Kind:          kind,
		RtpParameters: &core.RtpParameters{Codecs: []core.RtpCodecParameters{{MimeType: mime, PayloadType: 101, ClockRate: 90000}}},
	})
	if err != nil {
		t.Fatalf("Produce: %v", err)
	}
	return reply.ProducerID
}

var roomIDPattern = regexp.MustCompile(`^[0-9a-f]{16}-\d+$`)

func TestCreateAndJoinScenario(t *testing.T) {
	h := newHarness(t)
	a, b := h.connect("A"), h.connect("B")

	created, err := h.o.CreateRoom(context.Background())
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if !roomIDPattern.MatchString(string(created.RoomID)) {
		t.Fatalf("room id %q does not match %s", created.RoomID, roomIDPattern)
	}

	ra := h.join(t, a, created.RoomID, "u1", "Alice")
	if !ra.Success || len(ra.Peers) != 0 {
		t.Fatalf("A join reply = %+v, want success with empty roster", ra)
	}
	rb := h.join(t, b, created.RoomID, "u2", "Bob")
	want := core.PeerDTO{PeerID: "A", UserID: "u1", Username: "Alice"}
	if !rb.Success || len(rb.Peers) != 1 || rb.Peers[0] != want {
		t.Fatalf("B join reply = %+v, want roster [%+v]", rb, want)
	}

	got := a.rec.named(orch.EventNewPeer)
	if len(got) != 1 || got[0].(core.PeerDTO).PeerID != "B" {
		t.Fatalf("A newPeer events = %+v", got)
	}
	if n := len(b.rec.named(orch.EventNewPeer)); n != 0 {
		t.Fatalf("B received %d newPeer events about itself", n)
	}
	if n := h.engine.RoutersCreated(); n != 1 {
		t.Fatalf("routers created = %d, want 1", n)
	}
}

func TestJoinCreatesRoomAndRosterGrows(t *testing.T) {
	h := newHarness(t)
	roomID := domain.MeetingLinks{Now: func() time.Time { return h.now }}.Generate()

	for i := range 4 {
		c := h.connect(core.SessionID("p" + strconv.Itoa(i)))
		reply := h.join(t, c, roomID, domain.UserID("u"+strconv.Itoa(i)), "user")
		if len(reply.Peers) != i {
			t.Fatalf("join %d roster = %d, want %d", i, len(reply.Peers), i)
		}
	}
}

func TestProduceAndGetProducers(t *testing.T) {
	h := newHarness(t)
	a, b := h.connect("A"), h.connect("B")
	created, _ := h.o.CreateRoom(context.Background())
	h.join(t, a, created.RoomID, "u1", "Alice")
	h.join(t, b, created.RoomID, "u2", "Bob")

	pid := h.produce(t, a, domain.MediaKindVideo, "video/VP8")

	events := b.rec.named(orch.EventNewProducer)
	if len(events) != 1 {
		t.Fatalf("B newProducer events = %d, want 1", len(events))
	}
	ev := events[0].(orch.NewProducerEvent)
	if ev.ProducerID != pid || ev.PeerID != "A" || ev.Kind != domain.MediaKindVideo || ev.Username != "Alice" {
		t.Fatalf("newProducer = %+v", ev)
	}
	if n := len(a.rec.named(orch.EventNewProducer)); n != 0 {
		t.Fatalf("producer received %d of its own newProducer events", n)
	}

	list, err := h.o.GetProducers(b.sid, orch.RoomRequest{RoomID: created.RoomID})
	if err != nil {
		t.Fatalf("GetProducers: %v", err)
	}
	if len(list.Producers) != 1 || list.Producers[0].ProducerID != pid || list.Producers[0].PeerID != "A" {
		t.Fatalf("B producers = %+v", list.Producers)
	}
	own, _ := h.o.GetProducers(a.sid, orch.RoomRequest{})
	if len(own.Producers) != 0 {
		t.Fatalf("A sees its own producers: %+v", own.Producers)
	}
}

func TestConsume(t *testing.T) {
	h := newHarness(t)
	a, b := h.connect("A"), h.connect("B")
	created, _ := h.o.CreateRoom(context.Background())
	h.join(t, a, created.RoomID, "u1", "Alice")
	h.join(t, b, created.RoomID, "u2", "Bob")
	pid := h.produce(t, a, domain.MediaKindVideo, "video/VP8")

	ctx := context.Background()
	recv, err := h.o.CreateWebRtcTransport(ctx, b.sid, orch.CreateTransportRequest{Direction: core.DirectionRecv})
	if err != nil {
		t.Fatal(err)
	}
	caps := core.RtpCapabilities{Codecs: rtctest.Codecs()}
	reply, err := h.o.Consume(ctx, b.sid, orch.ConsumeRequest{TransportID: recv.ID, ProducerID: pid, RtpCapabilities: &caps})
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if reply.ProducerID != pid || reply.Kind != domain.MediaKindVideo || reply.ID == "" {
		t.Fatalf("consume reply = %+v", reply)
	}

	audioOnly := core.RtpCapabilities{Codecs: rtctest.Codecs()[:1]}
	_, err = h.o.Consume(ctx, b.sid, orch.ConsumeRequest{TransportID: recv.ID, ProducerID: pid, RtpCapabilities: &audioOnly})
	if !errors.Is(err, core.ErrCannotConsume) {
		t.Fatalf("Consume with incompatible caps err = %v, want ErrCannotConsume", err)
	}

	_, err = h.o.Consume(ctx, a.sid, orch.ConsumeRequest{TransportID: recv.ID, ProducerID: pid, RtpCapabilities: &caps})
	if !errors.Is(err, core.ErrTransportNotFound) {
		t.Fatalf("Consume on another peer's transport err = %v, want ErrTransportNotFound", err)
	}
}

func TestDisconnectBroadcastsPeerLeftOnce(t *testing.T) {
	h := newHarness(t)
	a, b := h.connect("A"), h.connect("B")
	created, _ := h.o.CreateRoom(context.Background())
	h.join(t, a, created.RoomID, "u1", "Alice")
	h.join(t, b, created.RoomID, "u2", "Bob")
	h.produce(t, a, domain.MediaKindAudio, "audio/opus")

	if !h.o.Leave(a.sid) {
		t.Fatal("first Leave returned false")
	}
	h.o.OnDisconnect(a.sid)
	if h.o.Leave(a.sid) {
		t.Fatal("Leave after disconnect returned true")
	}

	left := b.rec.named(orch.EventPeerLeft)
	if len(left) != 1 || left[0].(orch.PeerLeftEvent).PeerID != "A" {
		t.Fatalf("B peerLeft events = %+v, want exactly one for A", left)
	}
	list, err := h.o.GetProducers(b.sid, orch.RoomRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if len(list.Producers) != 0 {
		t.Fatalf("producers after A left = %+v", list.Producers)
	}
}

func TestConcurrentLeaveSingleBroadcast(t *testing.T) {
	h := newHarness(t)
	a, b := h.connect("A"), h.connect("B")
	created, _ := h.o.CreateRoom(context.Background())
	h.join(t, a, created.RoomID, "u1", "Alice")
	h.join(t, b, created.RoomID, "u2", "Bob")

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.o.OnDisconnect(a.sid)
		}()
	}
	wg.Wait()
	if n := len(b.rec.named(orch.EventPeerLeft)); n != 1 {
		t.Fatalf("peerLeft broadcasts = %d, want 1", n)
	}
}

func TestJoinExpiredLink(t *testing.T) {
	h := newHarness(t)
	c := h.connect("A")
	stale := domain.RoomID("0123456789abcdef-" + strconv.FormatInt(h.now.Add(-25*time.Hour).UnixMilli(), 10))

	_, err := h.o.JoinRoom(context.Background(), c.sid, orch.JoinRequest{RoomID: stale, UserID: "u1", Username: "Alice"})
	if !errors.Is(err, domain.ErrLinkExpired) {
		t.Fatalf("err = %v, want ErrLinkExpired", err)
	}
	if msg := orch.ErrorMessage(err); msg != "Meeting link has expired (24h limit)" {
		t.Fatalf("message = %q", msg)
	}
	if _, ok := h.o.Rooms.Get(stale); ok {
		t.Fatal("expired join created a room")
	}
	if n := h.engine.RoutersCreated(); n != 0 {
		t.Fatalf("routers created = %d, want 0", n)
	}
}

func TestJoinValidation(t *testing.T) {
	h := newHarness(t)
	c := h.connect("A")
	created, _ := h.o.CreateRoom(context.Background())

	cases := []struct {
		name string
		req  orch.JoinRequest
		want error
	}{
		{"no room", orch.JoinRequest{UserID: "u", Username: "n"}, orch.ErrMissingFields},
		{"no user", orch.JoinRequest{RoomID: created.RoomID, Username: "n"}, orch.ErrMissingFields},
		{"no name", orch.JoinRequest{RoomID: created.RoomID, UserID: "u"}, orch.ErrMissingFields},
		{"malformed id", orch.JoinRequest{RoomID: "lobby", UserID: "u", Username: "n"}, domain.ErrLinkExpired},
		{"long name", orch.JoinRequest{RoomID: created.RoomID, UserID: "u", Username: string(make([]byte, 65))}, domain.ErrUsernameTooLong},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.o.JoinRoom(context.Background(), c.sid, tc.req)
			if !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestRejoinLeavesPreviousRoom(t *testing.T) {
	h := newHarness(t)
	a, b := h.connect("A"), h.connect("B")
	first, _ := h.o.CreateRoom(context.Background())
	second, _ := h.o.CreateRoom(context.Background())
	h.join(t, a, first.RoomID, "u1", "Alice")
	h.join(t, b, first.RoomID, "u2", "Bob")

	h.join(t, a, second.RoomID, "u1", "Alice")

	if n := len(b.rec.named(orch.EventPeerLeft)); n != 1 {
		t.Fatalf("peerLeft in old room = %d, want 1", n)
	}
	peers, _ := h.o.Rooms.ListPeers(first.RoomID)
	if len(peers) != 1 || peers[0].PeerID != "B" {
		t.Fatalf("old room roster = %+v", peers)
	}
	if who := h.o.Whoami(a.sid); who.RoomID != second.RoomID || who.Username != "Alice" {
		t.Fatalf("whoami = %+v", who)
	}
}

func TestRequestsBeforeJoin(t *testing.T) {
	h := newHarness(t)
	c := h.connect("A")
	ctx := context.Background()

	if _, err := h.o.CreateWebRtcTransport(ctx, c.sid, orch.CreateTransportRequest{}); !errors.Is(err, orch.ErrNotJoined) {
		t.Fatalf("CreateWebRtcTransport err = %v, want ErrNotJoined", err)
	}
	if _, err := h.o.GetProducers(c.sid, orch.RoomRequest{RoomID: "missing-1"}); !errors.Is(err, core.ErrRoomNotFound) {
		t.Fatalf("GetProducers err = %v, want ErrRoomNotFound", err)
	}
	if _, err := h.o.RouterRtpCapabilities(c.sid, orch.RoomRequest{}); !errors.Is(err, orch.ErrMissingFields) {
		t.Fatalf("RouterRtpCapabilities err = %v, want ErrMissingFields", err)
	}

	created, _ := h.o.CreateRoom(ctx)
	caps, err := h.o.RouterRtpCapabilities(c.sid, orch.RoomRequest{RoomID: created.RoomID})
	if err != nil || len(caps.RtpCapabilities.Codecs) != 2 {
		t.Fatalf("RouterRtpCapabilities = %+v, %v", caps, err)
	}
}

func TestConnectTwiceFails(t *testing.T) {
	h := newHarness(t)
	c := h.connect("A")
	created, _ := h.o.CreateRoom(context.Background())
	h.join(t, c, created.RoomID, "u1", "Alice")

	ctx := context.Background()
	params, err := h.o.CreateWebRtcTransport(ctx, c.sid, orch.CreateTransportRequest{})
	if err != nil {
		t.Fatal(err)
	}
	req := orch.ConnectTransportRequest{TransportID: params.ID, DtlsParameters: &params.DtlsParameters}
	if _, err := h.o.ConnectTransport(ctx, c.sid, req); err != nil {
		t.Fatal(err)
	}
	if _, err := h.o.ConnectTransport(ctx, c.sid, req); !errors.Is(err, core.ErrTransportConnected) {
		t.Fatalf("second connect err = %v, want ErrTransportConnected", err)
	}
}

func TestBackPressureKicksRecipient(t *testing.T) {
	h := newHarness(t)
	a, b := h.connect("A"), h.connect("B")
	created, _ := h.o.CreateRoom(context.Background())
	h.join(t, a, created.RoomID, "u1", "Alice")
	a.rec.fail = errors.New("send buffer full")

	h.join(t, b, created.RoomID, "u2", "Bob")

	select {
	case <-a.ctx.Done():
	default:
		t.Fatal("slow recipient was not kicked")
	}
	if b.ctx.Err() != nil {
		t.Fatal("sender was kicked")
	}
	if h.o.DroppedEvents() != 1 {
		t.Fatalf("dropped = %d, want 1", h.o.DroppedEvents())
	}
}

func TestEvictRoom(t *testing.T) {
	h := newHarness(t)
	a, b := h.connect("A"), h.connect("B")
	created, _ := h.o.CreateRoom(context.Background())
	h.join(t, a, created.RoomID, "u1", "Alice")
	h.join(t, b, created.RoomID, "u2", "Bob")

	if !h.o.EvictRoom(created.RoomID) {
		t.Fatal("EvictRoom returned false")
	}
	for _, c := range []*client{a, b} {
		if n := len(c.rec.named(orch.EventRoomClosed)); n != 1 {
			t.Fatalf("%s roomClosed events = %d, want 1", c.sid, n)
		}
		if _, _, ok := h.o.Registry.RoomOf(c.sid); ok {
			t.Fatalf("%s still bound to room", c.sid)
		}
	}
	if _, ok := h.o.Rooms.Get(created.RoomID); ok {
		t.Fatal("room still registered")
	}
	if !h.engine.Routers()[0].Closed() {
		t.Fatal("router not closed")
	}
}

func TestSameKindProducersCoexist(t *testing.T) {
	h := newHarness(t)
	a, b := h.connect("A"), h.connect("B")
	created, _ := h.o.CreateRoom(context.Background())
	h.join(t, a, created.RoomID, "u1", "Alice")
	h.join(t, b, created.RoomID, "u2", "Bob")

	first := h.produce(t, a, domain.MediaKindVideo, "video/VP8")
	second := h.produce(t, a, domain.MediaKindVideo, "video/VP8")
	if first == second {
		t.Fatalf("second produce reused producer id %s", first)
	}

	events := b.rec.named(orch.EventNewProducer)
	if len(events) != 2 {
		t.Fatalf("B newProducer events = %d, want 2", len(events))
	}
	list, err := h.o.GetProducers(b.sid, orch.RoomRequest{RoomID: created.RoomID})
	if err != nil {
		t.Fatalf("GetProducers: %v", err)
	}
	got := make(map[string]bool)
	for _, p := range list.Producers {
		if p.PeerID != "A" || p.Kind != domain.MediaKindVideo {
			t.Fatalf("unexpected producer %+v", p)
		}
		got[p.ProducerID] = true
	}
	if len(list.Producers) != 2 || !got[first] || !got[second] {
		t.Fatalf("B producers = %+v, want %s and %s", list.Producers, first, second)
	}
}

func TestLenientPolicyKeepsSlowRecipient(t *testing.T) {
	h := newHarness(t)
	h.o.Policy = app.LenientPolicy{}
	a, b := h.connect("A"), h.connect("B")
	created, _ := h.o.CreateRoom(context.Background())
	h.join(t, a, created.RoomID, "u1", "Alice")
	a.rec.fail = errors.New("send buffer full")

	h.join(t, b, created.RoomID, "u2", "Bob")

	if a.ctx.Err() != nil {
		t.Fatal("slow recipient was kicked under the drop policy")
	}
	if h.o.DroppedEvents() != 1 {
		t.Fatalf("dropped = %d, want 1", h.o.DroppedEvents())
	}
	if _, _, ok := h.o.Registry.RoomOf(a.sid); !ok {
		t.Fatal("slow recipient left the room")
	}
}
