package app_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/meetsfu/internal/adapters/rtc/rtctest"
	"github.com/dkeye/meetsfu/internal/app"
	"github.com/dkeye/meetsfu/internal/core"
	"github.com/dkeye/meetsfu/internal/domain"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newManager(t *testing.T) (*app.RoomManager, *rtctest.Engine, *fakeClock, domain.MeetingLinks) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	links := domain.MeetingLinks{Now: clock.Now}
	engine := rtctest.NewEngine()
	return app.NewRoomManager(engine, rtctest.Codecs(), links), engine, clock, links
}

func TestGetOrCreateSingleRouter(t *testing.T) {
	m, engine, _, links := newManager(t)
	id := links.Generate()

	var wg sync.WaitGroup
	rooms := make([]core.RoomService, 16)
	for i := range rooms {
		wg.Add(1)
		go func() {
			defer wg.Done()
			room, err := m.GetOrCreate(context.Background(), id)
			if err != nil {
				t.Errorf("GetOrCreate: %v", err)
				return
			}
			rooms[i] = room
		}()
	}
	wg.Wait()

	if n := engine.RoutersCreated(); n != 1 {
		t.Fatalf("routers created = %d, want 1", n)
	}
	for _, r := range rooms {
		if r != rooms[0] {
			t.Fatal("GetOrCreate returned different rooms for the same id")
		}
	}
}

func TestGetOrCreateEngineFailure(t *testing.T) {
	m, engine, _, links := newManager(t)
	boom := errors.New("worker unavailable")
	engine.SetFaults(rtctest.Faults{CreateRouter: boom})

	id := links.Generate()
	if _, err := m.GetOrCreate(context.Background(), id); !errors.Is(err, boom) {
		t.Fatalf("GetOrCreate err = %v, want %v", err, boom)
	}
	if _, ok := m.Get(id); ok {
		t.Fatal("room registered after failed router creation")
	}
}

func TestAddPeerUnknownRoom(t *testing.T) {
	m, _, _, _ := newManager(t)
	_, err := m.AddPeer("nope-1", "a", domain.User{ID: "u", Username: "n"})
	if !errors.Is(err, core.ErrRoomNotFound) {
		t.Fatalf("AddPeer err = %v, want ErrRoomNotFound", err)
	}
	if _, err := m.ListPeers("nope-1"); !errors.Is(err, core.ErrRoomNotFound) {
		t.Fatalf("ListPeers err = %v, want ErrRoomNotFound", err)
	}
	if _, ok := m.RouterCapabilities("nope-1"); ok {
		t.Fatal("RouterCapabilities ok for unknown room")
	}
}

func TestEmptyRoomSurvivesLeave(t *testing.T) {
	m, _, _, links := newManager(t)
	id := links.Generate()
	if _, err := m.GetOrCreate(context.Background(), id); err != nil {
		t.Fatal(err)
	}
	if _, err := m.AddPeer(id, "a", domain.User{ID: "u", Username: "n"}); err != nil {
		t.Fatal(err)
	}
	if p, ok := m.GetPeer(id, "a"); !ok || p.UserID != "u" || p.Username != "n" {
		t.Fatalf("GetPeer = %+v, %v", p, ok)
	}
	if !m.RemovePeer(id, "a") {
		t.Fatal("RemovePeer returned false")
	}
	if _, ok := m.GetPeer(id, "a"); ok {
		t.Fatal("GetPeer found removed peer")
	}
	if _, ok := m.GetPeer("nope-1", "a"); ok {
		t.Fatal("GetPeer ok for unknown room")
	}
	if _, ok := m.Get(id); !ok {
		t.Fatal("empty room removed on leave")
	}
	caps, ok := m.RouterCapabilities(id)
	if !ok || len(caps.Codecs) == 0 {
		t.Fatal("router capabilities unavailable after leave")
	}
}

func TestReapExpiredOnlyEmpty(t *testing.T) {
	m, engine, clock, links := newManager(t)
	ctx := context.Background()
	empty := links.Generate()
	busy := links.Generate()
	for _, id := range []domain.RoomID{empty, busy} {
		if _, err := m.GetOrCreate(ctx, id); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := m.AddPeer(busy, "a", domain.User{ID: "u", Username: "n"}); err != nil {
		t.Fatal(err)
	}

	if got := m.ReapExpired(); len(got) != 0 {
		t.Fatalf("reaped %v before expiry", got)
	}
	clock.Advance(25 * time.Hour)
	got := m.ReapExpired()
	if len(got) != 1 || got[0] != empty {
		t.Fatalf("reaped %v, want [%s]", got, empty)
	}
	if _, ok := m.Get(busy); !ok {
		t.Fatal("occupied room reaped")
	}
	closed := 0
	for _, r := range engine.Routers() {
		if r.Closed() {
			closed++
		}
	}
	if closed != 1 {
		t.Fatalf("closed routers = %d, want 1", closed)
	}
}

func TestDeleteAndStats(t *testing.T) {
	m, _, _, links := newManager(t)
	ctx := context.Background()
	id := links.Generate()
	if _, err := m.GetOrCreate(ctx, id); err != nil {
		t.Fatal(err)
	}
	m.AddPeer(id, "a", domain.User{ID: "u1", Username: "A"})
	m.AddPeer(id, "b", domain.User{ID: "u2", Username: "B"})

	rooms, peers := m.Stats()
	if rooms != 1 || peers != 2 {
		t.Fatalf("Stats = (%d, %d), want (1, 2)", rooms, peers)
	}
	if list := m.List(); len(list) != 1 || list[0].PeerCount != 2 {
		t.Fatalf("List = %+v", list)
	}
	if !m.Delete(id) {
		t.Fatal("Delete returned false")
	}
	if m.Delete(id) {
		t.Fatal("second Delete returned true")
	}
}
