package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/octue/twined-server/internal/config"
	obsmetrics "github.com/octue/twined-server/internal/observability/metrics"
	"github.com/octue/twined-server/internal/servicerevision/domain"
	usagedomain "github.com/octue/twined-server/internal/serviceusage/domain"
	transportdomain "github.com/octue/twined-server/internal/transport/domain"
	"github.com/octue/twined-server/internal/version"
	"github.com/octue/twined-server/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Tags allow dotted and hyphenated version strings like "2.1.0.beta-1" as
// well as plain labels like "latest"; whitespace and sruid separators do not.
var validTag = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

type ServiceParam struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Cfg       config.Config
	Backends  *config.ServicesConfigHolder `optional:"true"`
	Transport transportdomain.Transport
	Metrics   *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID     *snowflake.Node
	cfg       config.Config
	backends  *config.ServicesConfigHolder
	transport transportdomain.Transport
	metrics   *obsmetrics.Metrics
}

func NewService(p ServiceParam) domain.Registry {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("servicerevision.service"),

		genID:     p.GenID,
		cfg:       p.Cfg,
		backends:  p.Backends,
		transport: p.Transport,
		metrics:   p.Metrics,
	}
}

// Register creates a new revision row. When the new revision is flagged as
// default, the previous default for the same (namespace, name) is cleared
// inside the same transaction; the prior row is locked so two concurrent
// default registrations serialize instead of both keeping the flag.
func (s *Service) Register(ctx context.Context, req domain.RegisterRequest) (*domain.ServiceRevision, error) {
	namespace := strings.TrimSpace(req.Namespace)
	if namespace == "" {
		namespace = s.cfg.DefaultNamespace
	}
	if !slug.IsSlug(namespace) {
		return nil, domain.ErrInvalidNamespace
	}

	name := strings.TrimSpace(req.Name)
	if name == "" || !slug.IsSlug(name) {
		return nil, domain.ErrInvalidName
	}

	tag := strings.TrimSpace(req.Tag)
	if tag == "" {
		tag = s.cfg.DefaultTag
	}
	if !validTag.MatchString(tag) {
		return nil, domain.ErrInvalidTag
	}

	project := strings.TrimSpace(req.Project)
	if project == "" {
		project = s.cfg.DefaultProject
	}

	revision := &domain.ServiceRevision{
		ID:        s.genID.Generate(),
		Namespace: namespace,
		Name:      name,
		Tag:       tag,
		IsDefault: req.IsDefault,
		Project:   project,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if revision.IsDefault {
			if err := s.clearDefault(tx, namespace, name); err != nil {
				return err
			}
		}
		return tx.Create(revision).Error
	})
	if err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrConflict
		}
		return nil, err
	}

	s.log.Info("registered service revision",
		zap.String("sruid", revision.SRUID()),
		zap.Bool("is_default", revision.IsDefault),
	)
	return revision, nil
}

func (s *Service) clearDefault(tx *gorm.DB, namespace, name string) error {
	q := tx.Where("namespace = ? AND name = ? AND is_default = ?", namespace, name, true)
	if s.supportsRowLocks() {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var prior []domain.ServiceRevision
	if err := q.Find(&prior).Error; err != nil {
		return err
	}
	for i := range prior {
		if err := tx.Model(&prior[i]).Update("is_default", false).Error; err != nil {
			return err
		}
	}
	return nil
}

// SQLite serializes writers at the database level, so the explicit row lock
// is only requested on the server dialects.
func (s *Service) supportsRowLocks() bool {
	name := s.db.Dialector.Name()
	return strings.EqualFold(name, "postgres") || strings.EqualFold(name, "mysql")
}

func (s *Service) Get(ctx context.Context, namespace, name, tag string) (*domain.ServiceRevision, error) {
	var revision domain.ServiceRevision
	err := s.db.WithContext(ctx).
		Where("namespace = ? AND name = ? AND tag = ?", namespace, name, tag).
		First(&revision).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &revision, nil
}

func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (*domain.ServiceRevision, error) {
	var revision domain.ServiceRevision
	err := s.db.WithContext(ctx).First(&revision, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &revision, nil
}

func (s *Service) List(ctx context.Context, namespace, name string) ([]domain.ServiceRevision, error) {
	var revisions []domain.ServiceRevision
	err := s.db.WithContext(ctx).
		Where("namespace = ? AND name = ?", namespace, name).
		Order("created_at").
		Find(&revisions).Error
	if err != nil {
		return nil, err
	}
	return revisions, nil
}

// SelectDefault returns the revision flagged as default for the pair.
// Callers may fall back to SelectLatest when none exists.
func (s *Service) SelectDefault(ctx context.Context, namespace, name string) (*domain.ServiceRevision, error) {
	var revision domain.ServiceRevision
	err := s.db.WithContext(ctx).
		Where("namespace = ? AND name = ? AND is_default = ?", namespace, name, true).
		First(&revision).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &revision, nil
}

// SelectLatest picks the revision whose tag is the highest semantic version.
// Revisions with unparseable tags are never selected.
func (s *Service) SelectLatest(ctx context.Context, namespace, name string) (*domain.ServiceRevision, error) {
	revisions, err := s.List(ctx, namespace, name)
	if err != nil {
		return nil, err
	}

	tags := make([]string, 0, len(revisions))
	for _, revision := range revisions {
		tags = append(tags, revision.Tag)
	}
	latest, ok := version.LatestTag(tags)
	if !ok {
		return nil, domain.ErrNotFound
	}
	for i := range revisions {
		if revisions[i].Tag == latest {
			return &revisions[i], nil
		}
	}
	return nil, domain.ErrNotFound
}

// Ask dispatches a question to the revision over the bus. The push URL
// embeds the question id plus routing parameters (internal revision id and
// sruid) so inbound events attribute back to (question, revision) without a
// second lookup. The registry itself is not mutated; stamping the question
// is the caller's responsibility.
func (s *Service) Ask(ctx context.Context, revision *domain.ServiceRevision, params domain.AskParams) (transportdomain.Subscription, string, error) {
	if revision == nil {
		return transportdomain.Subscription{}, "", domain.ErrNotFound
	}

	pushURL := params.PushURL
	if pushURL == "" {
		pushURL = s.pushURL(revision, params.QuestionID)
	}

	backend := s.backendFor(revision)
	subscription, err := s.transport.Ask(ctx, transportdomain.AskRequest{
		Topic:         revision.Topic(),
		QuestionID:    params.QuestionID,
		InputValues:   params.InputValues,
		InputManifest: params.InputManifest,
		PushEndpoint:  pushURL,
		AskerName:     backend.AskerName,
		Project:       backend.Project,
		Brokers:       backend.Brokers,
		Timeout:       s.cfg.AskTimeout,
	})
	if err != nil {
		s.metrics.RecordDispatchFailure()
		return transportdomain.Subscription{}, "", fmt.Errorf("%w: %s: %v", domain.ErrDispatchFailed, revision.SRUID(), err)
	}

	s.metrics.RecordQuestionAsked()
	s.log.Info("service revision was asked a question",
		zap.String("sruid", revision.SRUID()),
		zap.String("question_id", params.QuestionID),
	)
	return subscription, pushURL, nil
}

func (s *Service) pushURL(revision *domain.ServiceRevision, questionID string) string {
	query := url.Values{}
	query.Set("srid", revision.ID.String())
	query.Set("sruid", revision.SRUID())
	return fmt.Sprintf("%s/events/%s/%s?%s",
		s.cfg.BaseURL,
		usagedomain.KindQuestionResponseUpdated,
		questionID,
		query.Encode(),
	)
}

func (s *Service) backendFor(revision *domain.ServiceRevision) config.BackendSetting {
	if s.backends != nil {
		return s.backends.Backend(revision.Namespace, revision.Name)
	}
	setting := config.BackendSetting{
		Project:   s.cfg.DefaultProject,
		AskerName: s.cfg.AskerName,
		Brokers:   s.cfg.KafkaBrokers,
	}
	if revision.Project != "" {
		setting.Project = revision.Project
	}
	return setting
}
