package httpapi

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"

	"voiceplane/pkg/config"
	"voiceplane/pkg/health"
	"voiceplane/pkg/middleware"
	"voiceplane/pkg/rediskey"
	"voiceplane/services/auth"
	"voiceplane/services/ephemeralkey"
	"voiceplane/services/room"
)

var Module = fx.Module("httpapi",
	fx.Invoke(RegisterRoutes),
)

type RouterParams struct {
	fx.In
	Cfg      *config.Config
	Engine   *gin.Engine
	Health   health.HealthService
	Redis    *redis.Client
	Resolver *auth.Resolver
	Keys     *ephemeralkey.Service
	Rooms    *room.Service
}

func RegisterRoutes(p RouterParams) {
	p.Engine.GET("/healthz", p.Health.Liveness)
	p.Engine.GET("/readyz", p.Health.Readiness)

	keys := NewKeyHandler(p.Keys)
	rooms := NewRoomHandler(p.Rooms)

	// Key management is a session-only surface. An ephemeral key must
	// never be able to mint or revoke keys.
	kg := p.Engine.Group("/ephemeral-keys", p.Resolver.RequireSession())
	kg.POST("",
		middleware.RateLimit(p.Redis, p.Cfg.EphemeralKeys.CreatePerMinute, time.Minute, keyCreateLimitKey),
		keys.Create,
	)
	kg.GET("", keys.List)
	kg.DELETE("/:id", keys.Revoke)

	// Rooms accept both credential types; ephemeral callers need the
	// voice:connect scope.
	rg := p.Engine.Group("/rooms",
		p.Resolver.RequireAny(),
		p.Resolver.RequireScope(ephemeralkey.ScopeVoiceConnect),
	)
	rg.POST("", rooms.Create)
	rg.GET("", rooms.List)
	rg.DELETE("/:id", rooms.Delete)
	rg.POST("/:id/token", rooms.Token)
}

func keyCreateLimitKey(c *gin.Context) string {
	if p := auth.PrincipalFromContext(c); p != nil {
		return rediskey.BuildKeyCreateLimitKey(p.UserID)
	}
	return ""
}
