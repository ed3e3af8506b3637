package question

import (
	"context"

	"github.com/octue/twined-server/internal/question/domain"
	"github.com/octue/twined-server/internal/question/service"
	"github.com/octue/twined-server/internal/serviceusage/notify"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("question.service",
	fx.Provide(domain.NewTypeRegistry),
	fx.Provide(service.NewService),
	fx.Invoke(startAnswerWatcher),
)

func startAnswerWatcher(lc fx.Lifecycle, hub *notify.Hub, svc domain.Service, log *zap.Logger) {
	watcher := service.NewAnswerWatcher(hub, svc, log)
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			return watcher.Start()
		},
		OnStop: func(context.Context) error {
			watcher.Stop()
			return nil
		},
	})
}
