package http

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/dkeye/Relay/internal/adapters/ws"
	"github.com/dkeye/Relay/internal/app/orch"
	"github.com/dkeye/Relay/internal/config"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

func genClientToken() string {
	idStr := uuid.NewString()
	return idStr
}

// ClientTokenMiddleware issues a long lived browser token. It only
// correlates log lines; it grants nothing.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessions.Default(c)
		token, _ := session.Get("ct").(string)
		if token == "" {
			token = genClientToken()
			session.Set("ct", token)
			if err := session.Save(); err != nil {
				log.Warn().Err(err).Str("module", "adapters.http").Msg("client token not saved")
			}
		}
		c.Set("client_token", token)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, o *orch.Orchestrator) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("RelaySessions", store))
	r.Use(ClientTokenMiddleware())

	r.Static("/static", cfg.StaticPath)
	r.GET("/", func(c *gin.Context) {
		c.File(cfg.StaticPath + "/index.html")
	})
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	opts := ws.Options{
		QueueSize: cfg.Relay.SendQueue,
		WriteWait: cfg.Relay.WriteWait,
		ReadLimit: cfg.Relay.MaxMessageBytes,
	}
	limiter := NewJoinLimiter(cfg.Relay.JoinLimit, cfg.Relay.JoinWindow)
	go pruneLoop(ctx, limiter, cfg.Relay.JoinWindow)
	relay := &RelayHandler{Orch: o, Options: opts, Limiter: limiter}
	r.GET("/relay", func(c *gin.Context) {
		relay.Serve(ctx, c)
	})

	joinURL := func(code string) string {
		return cfg.PublicURL + "/?room=" + url.QueryEscape(code)
	}
	rooms := &RoomsHandler{Orch: o, JoinURL: joinURL}
	api := r.Group("/api")
	api.GET("/rooms", rooms.List)
	api.GET("/rooms/:code", rooms.Get)
	api.GET("/rooms/:code/qr", rooms.QR)

	return r
}

func pruneLoop(ctx context.Context, l *JoinLimiter, every time.Duration) {
	if every <= 0 {
		return
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			l.Prune()
		}
	}
}
