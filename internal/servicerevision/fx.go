package servicerevision

import (
	"github.com/octue/twined-server/internal/servicerevision/service"
	"go.uber.org/fx"
)

var Module = fx.Module("servicerevision.service",
	fx.Provide(service.NewService),
)
