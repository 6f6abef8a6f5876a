package providers

import (
	"go.uber.org/fx"

	"github.com/smallbiznis/orderflow/internal/providers/pdf"
)

var Module = fx.Module("providers",
	pdf.Module,
)
