package main

import (
	"log"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"voiceplane/pkg/config"
	"voiceplane/pkg/db"
	"voiceplane/pkg/logger"
	"voiceplane/pkg/redis"
	"voiceplane/pkg/task"
	"voiceplane/services/room"
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		redis.Module,
		task.Client,
		task.Server,
		fx.Provide(provideSnowflakeNode),
		room.Module,
		fx.Invoke(registerHandlers),
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

func registerHandlers(mux *asynq.ServeMux, handler *room.CleanupHandler) {
	mux.HandleFunc(room.TypeRoomCleanup, handler.HandleCleanup)
}
