package keylock

import "go.uber.org/fx"

var Module = fx.Module("keylock",
	fx.Provide(New),
)
