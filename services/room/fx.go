package room

import (
	"go.uber.org/fx"

	"voiceplane/pkg/config"
	"voiceplane/pkg/livekit"
)

var Module = fx.Module("room.module",
	fx.Provide(
		provideTokenBuilder,
		NewService,
		NewCleanupHandler,
	),
)

func provideTokenBuilder(cfg *config.Config) *livekit.TokenBuilder {
	return livekit.NewTokenBuilder(cfg.LiveKit.APIKey, cfg.LiveKit.APISecret)
}
