package signal

import (
	"context"
	"errors"
	"net/http"

	"github.com/dkeye/audiocast/internal/core"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Server runs one session over a signaling channel until it ends.
type Server interface {
	Serve(ctx context.Context, client string, ch core.SignalChannel) error
}

type SignalWSController struct {
	Sessions Server
	Limiter  *ConnectLimiter
	Conn     ConnConfig
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the request and serves a session on it. It blocks
// for the session's lifetime; ctx bounds every session of the process.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	client := c.GetString("client_token")
	if ctl.Limiter != nil && !ctl.Limiter.Allow(client) {
		log.Warn().Str("module", "signal").Str("client", client).Msg("connect rate limited")
		c.AbortWithStatus(http.StatusTooManyRequests)
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	log.Info().Str("module", "signal").Str("client", client).Str("remote", c.ClientIP()).Msg("new WS connection")

	conn := newWsSignalConn(ws, ctl.Conn)
	err = ctl.Sessions.Serve(ctx, client, conn)
	switch {
	case err == nil:
		log.Info().Str("module", "signal").Str("client", client).Msg("session finished")
	case errors.Is(err, core.ErrTransportDisconnect), errors.Is(err, context.Canceled), errors.Is(err, core.ErrClosed):
		log.Info().Str("module", "signal").Str("client", client).Err(err).Msg("session finished")
	default:
		log.Warn().Str("module", "signal").Str("client", client).Err(err).Msg("session failed")
	}
}
