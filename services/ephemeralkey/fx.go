package ephemeralkey

import (
	"go.uber.org/fx"
)

var Module = fx.Module("ephemeralkey.module",
	fx.Provide(NewService),
)
