package serviceusage

import (
	"github.com/octue/twined-server/internal/serviceusage/domain"
	"github.com/octue/twined-server/internal/serviceusage/notify"
	"github.com/octue/twined-server/internal/serviceusage/service"
	"go.uber.org/fx"
)

var Module = fx.Module("serviceusage.service",
	fx.Provide(notify.NewHub),
	fx.Provide(service.NewService),
	fx.Provide(func(s *service.Service) domain.Ingestor { return s }),
	fx.Provide(func(s *service.Service) domain.Views { return s }),
)
