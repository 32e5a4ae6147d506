package refstore

import (
	"go.uber.org/fx"
)

var Module = fx.Module("refstore",
	fx.Provide(ProvideClient),
	fx.Provide(ProvideKV),
	fx.Provide(New),
)
