package service

import (
	"context"

	"github.com/octue/twined-server/internal/question/domain"
	usagedomain "github.com/octue/twined-server/internal/serviceusage/domain"
	"github.com/octue/twined-server/internal/serviceusage/notify"
	"go.uber.org/zap"
)

// AnswerWatcher folds terminal events back onto the question row: a result
// stamps answered and success, an exception flips the status to error.
type AnswerWatcher struct {
	hub *notify.Hub
	svc domain.Service
	log *zap.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

func NewAnswerWatcher(hub *notify.Hub, svc domain.Service, log *zap.Logger) *AnswerWatcher {
	return &AnswerWatcher{
		hub: hub,
		svc: svc,
		log: log.Named("question.answerwatcher"),
	}
}

// Start subscribes to the terminal event streams. The subscriptions are
// lossless because the watcher updates durable question state: a dropped
// notification would leave answered unset forever while the result row
// exists.
func (w *AnswerWatcher) Start() error {
	results, _, err := w.hub.SubscribeLossless(usagedomain.DiscriminatorResult)
	if err != nil {
		return err
	}
	exceptions, _, err := w.hub.SubscribeLossless(usagedomain.DiscriminatorException)
	if err != nil {
		results.Close()
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.done = make(chan struct{})

	go func() {
		defer close(w.done)
		defer results.Close()
		defer exceptions.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case n := <-results.Events():
				w.onResult(ctx, n)
			case n := <-exceptions.Events():
				w.onException(ctx, n)
			}
		}
	}()
	return nil
}

func (w *AnswerWatcher) Stop() {
	if w.cancel == nil {
		return
	}
	w.cancel()
	<-w.done
}

func (w *AnswerWatcher) onResult(ctx context.Context, n notify.Notification) {
	if n.Event == nil {
		return
	}
	err := w.svc.MarkAnswered(ctx, n.Event.QuestionID, domain.StatusSuccess, n.Event.PublishTime)
	if err != nil {
		w.log.Warn("could not mark question answered",
			zap.String("question_id", n.Event.QuestionID.String()),
			zap.Error(err),
		)
	}
}

func (w *AnswerWatcher) onException(ctx context.Context, n notify.Notification) {
	if n.Event == nil {
		return
	}
	err := w.svc.UpdateStatus(ctx, n.Event.QuestionID, domain.StatusError)
	if err != nil {
		w.log.Warn("could not flag question exception",
			zap.String("question_id", n.Event.QuestionID.String()),
			zap.Error(err),
		)
	}
}
