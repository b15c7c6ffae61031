package signal

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/dkeye/meetsfu/internal/app/orch"
	"github.com/dkeye/meetsfu/internal/core"
	"github.com/rs/zerolog/log"
)

type errorReply struct {
	Error string `json:"error"`
}

type handlerFunc func(ctx context.Context, sid core.SessionID, c *WsSignalConn, in Inbound) (any, error)

// bind decodes the request payload into Req before calling fn.
func bind[Req any, Resp any](fn func(ctx context.Context, sid core.SessionID, req Req) (Resp, error)) handlerFunc {
	return func(ctx context.Context, sid core.SessionID, _ *WsSignalConn, in Inbound) (any, error) {
		var req Req
		if err := in.Bind(&req); err != nil {
			return nil, fmt.Errorf("%w: %v", errBadPayload, err)
		}
		return fn(ctx, sid, req)
	}
}

func (ctl *SignalWSController) routes() map[string]handlerFunc {
	return map[string]handlerFunc{
		"createRoom":               ctl.handleCreateRoom,
		"joinRoom":                 bind(ctl.Orch.JoinRoom),
		"getRouterRtpCapabilities": bind(ctl.handleCapabilities),
		"createWebRtcTransport":    bind(ctl.Orch.CreateWebRtcTransport),
		"connectTransport":         bind(ctl.Orch.ConnectTransport),
		"produce":                  bind(ctl.Orch.Produce),
		"consume":                  bind(ctl.Orch.Consume),
		"getProducers":             bind(ctl.handleGetProducers),
		"leaveRoom":                ctl.handleLeave,
		"ping":                     ctl.handlePing,
		"whoami":                   ctl.handleWhoAmI,
	}
}

func (ctl *SignalWSController) handleSignal(ctx context.Context, sid core.SessionID, c *WsSignalConn, data []byte) {
	in, err := c.codec.Decode(data)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Bool("has_id", in.HasID).Msg("bad frame")
		if in.HasID {
			c.reply(in.ID, errorReply{Error: "Invalid request"})
		}
		return
	}
	reply := ctl.dispatch(ctx, sid, c, in)
	c.reply(in.ID, reply)
}

// dispatch never fails: every error, including a panic, becomes
// {error: <message>}.
func (ctl *SignalWSController) dispatch(ctx context.Context, sid core.SessionID, c *WsSignalConn, in Inbound) (reply any) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("module", "signal").
				Str("sid", string(sid)).
				Str("type", in.Type).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("handler panic")
			reply = errorReply{Error: "internal error"}
		}
	}()

	h, ok := ctl.handlers[in.Type]
	if !ok {
		log.Warn().Str("module", "signal").Str("type", in.Type).Msg("unknown signal")
		return errorReply{Error: "Unknown request: " + in.Type}
	}
	resp, err := h(ctx, sid, c, in)
	if err != nil {
		log.Info().Err(err).Str("module", "signal").Str("sid", string(sid)).Str("type", in.Type).Msg("request failed")
		return errorReply{Error: orch.ErrorMessage(err)}
	}
	return resp
}
