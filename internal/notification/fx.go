package notification

import "go.uber.org/fx"

var Module = fx.Module("notification.service",
	fx.Provide(NewHub),
	fx.Provide(NewService),
	fx.Provide(func(s *Service) Notifier { return s }),
)
