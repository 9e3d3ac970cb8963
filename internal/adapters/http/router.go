package http

import (
	"context"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Huddle/internal/adapters/signal"
	"github.com/dkeye/Huddle/internal/app/orch"
	"github.com/dkeye/Huddle/internal/config"
)

const (
	tokenCookie    = "ct"
	sessionKeyName = "display_name"
)

func genClientToken() string {
	return uuid.NewString()
}

// ClientTokenMiddleware identifies the browser by a long-lived cookie. The
// token is the participant id on the signaling channel.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie(tokenCookie)
		if token == "" {
			token = genClientToken()
			c.SetCookie(tokenCookie, token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		if name, ok := sessions.Default(c).Get(sessionKeyName).(string); ok {
			c.Set("display_name", name)
		}
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, o *orch.Orchestrator, ctl *signal.SignalWSController) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok", "sessions": len(o.Sessions.List())})
	})

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("HuddleSessions", store))
	r.Use(ClientTokenMiddleware())

	r.Static("/static", cfg.StaticPath)
	r.GET("/", func(c *gin.Context) {
		c.File(cfg.StaticPath + "/index.html")
	})

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	h := &handlers{orch: o}
	api := r.Group("/api")
	api.GET("/me", h.me)
	api.PUT("/me", h.rename)
	api.GET("/sessions", h.listSessions)
	api.POST("/sessions", h.createSession)
	api.GET("/sessions/:id", h.getSession)
	api.GET("/sessions/:id/audit", h.audit)

	api.GET("/ws/signal", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("participant", c.GetString("client_token")).Msg("ws signal endpoint hit")
		ctl.HandleSignal(ctx, c)
	})

	return r
}
