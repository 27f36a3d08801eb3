package main

import (
	"log"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"voiceplane/internal/httpapi"
	"voiceplane/pkg/config"
	"voiceplane/pkg/db"
	"voiceplane/pkg/hashistack/secretmanager"
	"voiceplane/pkg/health"
	"voiceplane/pkg/logger"
	"voiceplane/pkg/otelcol"
	"voiceplane/pkg/redis"
	"voiceplane/pkg/server"
	"voiceplane/pkg/task"
	"voiceplane/services/auth"
	"voiceplane/services/ephemeralkey"
	"voiceplane/services/room"
)

func main() {
	opts := []fx.Option{
		secretmanager.Module,
		config.Module,
		logger.Module,
		otelcol.Module,
		db.Module,
		redis.Module,
		task.Client,
		health.Module,
		fx.Provide(
			provideSnowflakeNode,
			server.NewRouter,
		),
		ephemeralkey.Module,
		auth.Module,
		room.Module,
		httpapi.Module,
		fx.Invoke(
			migrate,
			db.Otel,
			db.Metric,
		),
		server.ProvideHTTPServer,
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})

func provideSnowflakeNode() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}

func migrate(g *gorm.DB) error {
	return g.AutoMigrate(
		&ephemeralkey.EphemeralKey{},
		&room.Room{},
	)
}
