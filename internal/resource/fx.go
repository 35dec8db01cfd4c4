package resource

import (
	"github.com/hourbill/hourbill/internal/resource/service"
	"go.uber.org/fx"
)

var Module = fx.Module("resource.service",
	fx.Provide(service.NewService),
)
