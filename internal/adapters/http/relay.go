package http

import (
	"context"
	"net/http"

	"github.com/dkeye/Relay/internal/adapters/ws"
	"github.com/dkeye/Relay/internal/app/orch"
	"github.com/dkeye/Relay/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

type relayQuery struct {
	Role string `form:"role" binding:"omitempty,max=16"`
	Room string `form:"room" binding:"omitempty,max=32"`
}

// RelayHandler upgrades /relay?role=host|viewer&room=CODE and runs the
// connection until it closes.
type RelayHandler struct {
	Orch    *orch.Orchestrator
	Options ws.Options
	Limiter *JoinLimiter
}

func (h *RelayHandler) Serve(ctx context.Context, c *gin.Context) {
	var q relayQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	role, err := domain.ParseRole(q.Role)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// keyed by address: non-browser clients do not keep the token cookie
	if !h.Limiter.Allow(c.ClientIP()) {
		log.Warn().Str("module", "adapters.http").Str("ip", c.ClientIP()).Msg("relay join rate limited")
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many connection attempts"})
		return
	}

	logger := log.With().
		Str("module", "adapters.http").
		Str("client", c.GetString("client_token")).
		Str("role", role.String()).
		Logger()

	conn, err := ws.Upgrade(c.Writer, c.Request, h.Options)
	if err != nil {
		logger.Error().Err(err).Msg("ws upgrade")
		return
	}

	d, err := h.Orch.Connect(role, q.Room, conn)
	if err != nil {
		logger.Info().Err(err).Msg("relay connection refused")
		return
	}
	sess := d.Session()
	conn.OnPong(sess.MarkAlive)
	logger.Info().Str("sid", string(sess.ID)).Str("room", string(sess.Room())).Msg("relay connection open")

	err = conn.ReadLoop(ctx, d)
	h.Orch.OnDisconnect(sess)
	logger.Info().Err(err).Str("sid", string(sess.ID)).Msg("relay connection closed")
}
