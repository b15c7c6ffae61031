package signal

import (
	"context"

	"github.com/dkeye/meetsfu/internal/core"
)

func (ctl *SignalWSController) handlePing(context.Context, core.SessionID, *WsSignalConn, Inbound) (any, error) {
	return struct {
		Pong bool `json:"pong"`
	}{Pong: true}, nil
}

func (ctl *SignalWSController) handleWhoAmI(_ context.Context, sid core.SessionID, _ *WsSignalConn, _ Inbound) (any, error) {
	return ctl.Orch.Whoami(sid), nil
}
