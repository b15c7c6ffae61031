package signal

import (
	"context"
	"errors"

	"github.com/dkeye/meetsfu/internal/app/orch"
	"github.com/dkeye/meetsfu/internal/core"
	"github.com/rs/zerolog/log"
)

var errCreateLimited = errors.New("too many rooms created, try again later")

func (ctl *SignalWSController) handleCreateRoom(ctx context.Context, sid core.SessionID, _ *WsSignalConn, _ Inbound) (any, error) {
	key := string(sid)
	if sess, ok := ctl.Orch.Registry.GetSession(sid); ok && sess.ClientToken() != "" {
		key = sess.ClientToken()
	}
	if !ctl.Limiter.Allow(key) {
		log.Warn().Str("module", "signal").Str("sid", string(sid)).Msg("create room rate limited")
		return nil, errCreateLimited
	}
	return ctl.Orch.CreateRoom(ctx)
}

func (ctl *SignalWSController) handleCapabilities(_ context.Context, sid core.SessionID, req orch.RoomRequest) (orch.CapabilitiesReply, error) {
	return ctl.Orch.RouterRtpCapabilities(sid, req)
}

func (ctl *SignalWSController) handleGetProducers(_ context.Context, sid core.SessionID, req orch.RoomRequest) (orch.ProducersReply, error) {
	return ctl.Orch.GetProducers(sid, req)
}

func (ctl *SignalWSController) handleLeave(_ context.Context, sid core.SessionID, _ *WsSignalConn, _ Inbound) (any, error) {
	log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("leave")
	ctl.Orch.Leave(sid)
	return orch.SuccessReply{Success: true}, nil
}
