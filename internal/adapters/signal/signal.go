package signal

import (
	"context"
	"net/http"
	"time"

	"github.com/dkeye/meetsfu/internal/app/orch"
	"github.com/dkeye/meetsfu/internal/core"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

type Options struct {
	ReadLimit    int64
	PingPeriod   time.Duration
	PongWait     time.Duration
	WriteWait    time.Duration
	SendBuffer   int
	CreateLimit  int
	CreateWindow time.Duration
}

func DefaultOptions() Options {
	return Options{
		ReadLimit:    64 << 10,
		PingPeriod:   54 * time.Second,
		PongWait:     60 * time.Second,
		WriteWait:    10 * time.Second,
		SendBuffer:   64,
		CreateLimit:  10,
		CreateWindow: time.Minute,
	}
}

type SignalWSController struct {
	Orch    *orch.Orchestrator
	Limiter *RoomRateLimiter

	opts     Options
	handlers map[string]handlerFunc
}

func NewSignalWSController(o *orch.Orchestrator, opts Options) *SignalWSController {
	ctl := &SignalWSController{
		Orch:    o,
		Limiter: NewRoomRateLimiter(opts.CreateLimit, opts.CreateWindow),
		opts:    opts,
	}
	ctl.handlers = ctl.routes()
	return ctl
}

var upgrader = websocket.Upgrader{
	CheckOrigin:  func(r *http.Request) bool { return true },
	Subprotocols: []string{jsonSubprotocol, msgpackSubprotocol},
}

// HandleSignal upgrades the request and serves the connection until it
// closes. Every connection gets a fresh peer id; the client token only
// identifies the browser.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	token := c.GetString("client_token")
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	sid := core.SessionID(uuid.NewString())
	codec := codecFor(ws.Subprotocol())
	conn := newWsSignalConn(ws, codec, ctl.opts.SendBuffer)
	log.Info().
		Str("module", "signal").
		Str("sid", string(sid)).
		Str("client", token).
		Str("codec", codec.Name()).
		Msg("new WS connection")

	ctx, cancel := context.WithCancel(ctx)
	ctl.Orch.OnConnect(sid, core.NewMemberSession(conn, token), cancel)

	// A kick cancels ctx; closing the socket unblocks the reader.
	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	go ctl.writePump(ctx, sid, conn)

	ctl.readPump(ctx, sid, conn)
	cancel()
	ctl.Orch.OnDisconnect(sid)
	log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("WS connection closed")
}
