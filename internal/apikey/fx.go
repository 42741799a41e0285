package apikey

import (
	"github.com/chamomilehq/chamomile/internal/apikey/repository"
	"github.com/chamomilehq/chamomile/internal/apikey/service"
	"go.uber.org/fx"
)

var Module = fx.Module("apikey.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
