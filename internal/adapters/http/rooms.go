package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/dkeye/meetsfu/internal/adapters/signal"
	"github.com/dkeye/meetsfu/internal/app/orch"
	"github.com/dkeye/meetsfu/internal/core"
	"github.com/dkeye/meetsfu/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

type roomView struct {
	ID        domain.RoomID `json:"roomId"`
	Peers     int           `json:"peers"`
	CreatedAt time.Time     `json:"createdAt"`
	Expired   bool          `json:"expired"`
	Age       string        `json:"age"`
}

type metricsView struct {
	Rooms         int   `json:"rooms"`
	Peers         int   `json:"peers"`
	Connections   int   `json:"connections"`
	DroppedEvents int64 `json:"droppedEvents"`
}

type roomHandlers struct {
	orch    *orch.Orchestrator
	limiter *signal.RoomRateLimiter
}

func healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *roomHandlers) view(info core.RoomInfo) roomView {
	links := h.orch.Links
	v := roomView{
		ID:        info.ID,
		Peers:     info.PeerCount,
		CreatedAt: info.CreatedAt,
		Expired:   links.IsExpired(info.ID),
	}
	if age := links.Age(info.ID); age != domain.AgeUnknown {
		v.Age = age.Truncate(time.Second).String()
	}
	return v
}

func (h *roomHandlers) create(c *gin.Context) {
	token := c.GetString("client_token")
	if h.limiter != nil && !h.limiter.Allow(token) {
		log.Warn().Str("module", "adapters.http").Str("client", token).Msg("create room rate limited")
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many rooms created, try again later"})
		return
	}
	reply, err := h.orch.CreateRoom(c.Request.Context())
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("create room")
		c.JSON(http.StatusInternalServerError, gin.H{"error": orch.ErrorMessage(err)})
		return
	}
	c.JSON(http.StatusCreated, reply)
}

func (h *roomHandlers) list(c *gin.Context) {
	infos := h.orch.Rooms.List()
	out := make([]roomView, 0, len(infos))
	for _, info := range infos {
		out = append(out, h.view(info))
	}
	c.JSON(http.StatusOK, out)
}

func (h *roomHandlers) get(c *gin.Context) {
	id := domain.RoomID(c.Param("id"))
	room, ok := h.orch.Rooms.Get(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": orch.ErrorMessage(core.ErrRoomNotFound)})
		return
	}
	c.JSON(http.StatusOK, h.view(core.RoomInfo{ID: id, PeerCount: room.PeerCount(), CreatedAt: room.Room().CreatedAt}))
}

func (h *roomHandlers) peers(c *gin.Context) {
	peers, err := h.orch.Rooms.ListPeers(domain.RoomID(c.Param("id")))
	if errors.Is(err, core.ErrRoomNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": orch.ErrorMessage(err)})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, peers)
}

func (h *roomHandlers) delete(c *gin.Context) {
	id := domain.RoomID(c.Param("id"))
	if !h.orch.EvictRoom(id) {
		c.JSON(http.StatusNotFound, gin.H{"error": orch.ErrorMessage(core.ErrRoomNotFound)})
		return
	}
	log.Info().Str("module", "adapters.http").Str("room", string(id)).Msg("room deleted via api")
	c.Status(http.StatusNoContent)
}

func (h *roomHandlers) metrics(c *gin.Context) {
	rooms, peers := h.orch.Rooms.Stats()
	c.JSON(http.StatusOK, metricsView{
		Rooms:         rooms,
		Peers:         peers,
		Connections:   h.orch.Registry.Count(),
		DroppedEvents: h.orch.DroppedEvents(),
	})
}
