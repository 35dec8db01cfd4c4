package auth

import (
	"github.com/hourbill/hourbill/internal/auth/service"
	"github.com/hourbill/hourbill/internal/auth/session"
	"go.uber.org/fx"
)

var Module = fx.Module("auth.service",
	fx.Provide(service.NewService),
	fx.Provide(session.NewManager),
)
