package auth

import (
	"github.com/chamomilehq/chamomile/internal/auth/repository"
	"github.com/chamomilehq/chamomile/internal/auth/service"
	"github.com/chamomilehq/chamomile/internal/auth/session"
	"go.uber.org/fx"
)

var Module = fx.Module("auth.service",
	fx.Provide(repository.New),
	fx.Provide(service.New),
	fx.Provide(session.NewManager),
)
