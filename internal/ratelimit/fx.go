package ratelimit

import "go.uber.org/fx"

var Module = fx.Module("rate.limit",
	fx.Provide(NewRedisClient),
	fx.Provide(NewTokenBucket),
	fx.Provide(fx.Annotate(NewDistributedLocker, fx.ResultTags(`name:"distributed"`))),
	fx.Provide(NewCheckoutLimiter),
)
