package summarize

import "go.uber.org/fx"

var Module = fx.Module("summarize.service",
	fx.Provide(New),
)
