package payment

import (
	"go.uber.org/fx"

	"github.com/smallbiznis/orderflow/internal/payment/repository"
	"github.com/smallbiznis/orderflow/internal/payment/service"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
