// Package checkpoint keeps a revision chain per entity and answers "what did
// this data look like at release X" questions against named checkpoints.
package checkpoint

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/totegamma/checkpoint/internal/config"
	"github.com/totegamma/checkpoint/internal/domain"
	"github.com/totegamma/checkpoint/internal/entitytype"
	"github.com/totegamma/checkpoint/internal/infra/cache"
	"github.com/totegamma/checkpoint/internal/infra/database"
	"github.com/totegamma/checkpoint/internal/infra/memstore"
	"github.com/totegamma/checkpoint/internal/infra/repository"
	"github.com/totegamma/checkpoint/internal/logger"
	"github.com/totegamma/checkpoint/internal/metrics"
	"github.com/totegamma/checkpoint/internal/present/rest"
	"github.com/totegamma/checkpoint/internal/service"
	"github.com/totegamma/checkpoint/internal/usecase"
)

type (
	Revision       = domain.Revision
	Checkpoint     = domain.Checkpoint
	CheckpointRef  = domain.CheckpointRef
	Timeline       = domain.Timeline
	Group          = domain.Group
	Metadata       = domain.Metadata
	Metadatable    = domain.Metadatable
	RevisionHolder = domain.RevisionHolder
	RevisionEvent  = domain.RevisionEvent
	EventPublisher = usecase.EventPublisher
	AppendInput    = usecase.AppendInput
	LatestQuery    = usecase.LatestQuery
)

var (
	ErrNotFound               = domain.ErrNotFound
	ErrMissingRevisionContext = domain.ErrMissingRevisionContext
	ErrChainIntegrity         = domain.ErrChainIntegrity
	ErrUnknownTemporalBound   = domain.ErrUnknownTemporalBound
	ErrAmbiguousEntityType    = domain.ErrAmbiguousEntityType
	ErrRevisionSealed         = domain.ErrRevisionSealed
	ErrTimelineMismatch       = domain.ErrTimelineMismatch
)

// Options configures an embedded engine.
type Options struct {
	// DB selects gorm storage and must be opened with TranslateError so
	// concurrent heads surface as ErrChainIntegrity. Nil keeps everything in
	// process memory. Run Migrate on it first.
	DB *gorm.DB
	// Namespaces are prefixes stripped from entity type names.
	Namespaces []string
	// Kinds maps stable kind identifiers to discriminators.
	Kinds map[string]string
	// CacheTTL enables the local checkpoint partition cache.
	CacheTTL  time.Duration
	Publisher EventPublisher
	// Redis, when set, carries revision events and backs the realtime
	// stream. It takes precedence over Publisher.
	Redis        *redis.Client
	EventChannel string
	Logger       *zerolog.Logger
	// SkipVerify disables the full chain check run inside each mutation.
	SkipVerify bool
}

// Engine bundles the revision chain, checkpoint index, query engine, metadata
// separator and timeline binding over one storage backend.
type Engine struct {
	chain       *usecase.ChainUsecase
	checkpoints *usecase.CheckpointUsecase
	query       *usecase.QueryUsecase
	metadata    *usecase.MetadataUsecase
	timelines   *usecase.TimelineUsecase
	registry    *entitytype.Registry
	metrics     *metrics.Metrics
	signal      *service.SignalService
	log         *logger.Logger
	closers     []func() error
}

func New(opts Options) (*Engine, error) {
	registry := entitytype.NewRegistry(opts.Namespaces...)
	for kind, discriminator := range opts.Kinds {
		if err := registry.RegisterKind(kind, discriminator); err != nil {
			return nil, err
		}
	}

	log := logger.Nop()
	if opts.Logger != nil {
		log = logger.Wrap(*opts.Logger)
	}

	e := &Engine{
		registry: registry,
		metrics:  metrics.New(),
		log:      log,
	}

	usecaseOpts := []usecase.Option{
		usecase.WithLogger(log),
		usecase.WithMetrics(e.metrics),
		usecase.WithVerifyOnWrite(!opts.SkipVerify),
	}
	switch {
	case opts.Redis != nil:
		channel := opts.EventChannel
		if channel == "" {
			channel = "checkpoint:revisions"
		}
		e.signal = service.NewSignalService(opts.Redis, channel, log.Component("signal"))
		usecaseOpts = append(usecaseOpts, usecase.WithPublisher(e.signal))
	case opts.Publisher != nil:
		usecaseOpts = append(usecaseOpts, usecase.WithPublisher(opts.Publisher))
	}
	if opts.CacheTTL > 0 {
		usecaseOpts = append(usecaseOpts, usecase.WithCheckpointCache(cache.NewLocal(opts.CacheTTL)))
	}

	e.build(opts.DB, usecaseOpts)
	return e, nil
}

// Migrate creates or updates the revision, checkpoint and timeline tables.
func Migrate(db *gorm.DB) error {
	return database.Migrate(db)
}

// Open loads a YAML config file and builds the engine it describes.
func Open(path string) (*Engine, error) {
	conf, err := config.Load(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load config")
	}
	log := logger.New(logger.Config{Level: conf.Log.Level, Pretty: conf.Log.Pretty})
	return FromConfig(conf, log)
}

// FromConfig builds an engine with the storage, cache and event backends
// named in conf.
func FromConfig(conf config.Config, log *logger.Logger) (*Engine, error) {
	conf.Defaults()
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Nop()
	}

	registry := entitytype.NewRegistry(conf.EntityTypes.Namespaces...)
	for kind, discriminator := range conf.EntityTypes.Kinds {
		if err := registry.RegisterKind(kind, discriminator); err != nil {
			return nil, err
		}
	}

	e := &Engine{
		registry: registry,
		metrics:  metrics.New(),
		log:      log,
	}

	opts := []usecase.Option{
		usecase.WithLogger(log),
		usecase.WithMetrics(e.metrics),
		usecase.WithVerifyOnWrite(*conf.Storage.VerifyOnWrite),
	}

	switch conf.Cache.Driver {
	case "local":
		opts = append(opts, usecase.WithCheckpointCache(cache.NewLocal(conf.Cache.TTL)))
	case "memcached":
		mc := database.NewMemcached(conf.Cache.MemcachedAddr)
		opts = append(opts, usecase.WithCheckpointCache(
			cache.NewMemcached(mc, "checkpoint", conf.Cache.TTL, log.Component("cache")),
		))
	}

	if conf.Events.RedisAddr != "" {
		rdb := database.NewRedis(conf.Events.RedisAddr, conf.Events.RedisPassword, conf.Events.RedisDB)
		e.closers = append(e.closers, rdb.Close)
		e.signal = service.NewSignalService(rdb, conf.Events.Channel, log.Component("signal"))
		opts = append(opts, usecase.WithPublisher(e.signal))
	}

	var db *gorm.DB
	if conf.Storage.Driver == "postgres" {
		var err error
		db, err = database.NewPostgres(conf.Storage.PostgresDsn, log.Component("gorm"))
		if err != nil {
			e.Close()
			return nil, errors.Wrap(err, "failed to connect database")
		}
		if err := database.Migrate(db); err != nil {
			e.Close()
			return nil, errors.Wrap(err, "failed to migrate database")
		}
		if sqlDB, err := db.DB(); err == nil {
			e.closers = append(e.closers, sqlDB.Close)
		}
	}

	e.build(db, opts)
	return e, nil
}

func (e *Engine) build(db *gorm.DB, opts []usecase.Option) {
	var (
		revisions   usecase.RevisionRepository
		checkpoints usecase.CheckpointRepository
		timelines   usecase.TimelineRepository
	)
	if db != nil {
		revisions = repository.NewRevisionRepository(db)
		checkpoints = repository.NewCheckpointRepository(db)
		timelines = repository.NewTimelineRepository(db)
	} else {
		store := memstore.New()
		revisions = memstore.NewRevisionRepository(store)
		checkpoints = memstore.NewCheckpointRepository(store)
		timelines = memstore.NewTimelineRepository(store)
	}

	e.checkpoints = usecase.NewCheckpointUsecase(checkpoints, timelines, opts...)
	e.query = usecase.NewQueryUsecase(revisions, e.checkpoints, e.registry, opts...)
	e.chain = usecase.NewChainUsecase(revisions, checkpoints, e.registry, opts...)
	e.metadata = usecase.NewMetadataUsecase(revisions, e.registry, opts...)
	e.timelines = usecase.NewTimelineUsecase(timelines, e.query, opts...)
}

// RegisterType binds the Go type of sample to a discriminator so live
// entities of that type can be passed wherever an entity type is accepted.
func (e *Engine) RegisterType(sample any, discriminator string) error {
	return e.registry.Register(sample, discriminator)
}

func (e *Engine) Append(ctx context.Context, in AppendInput) (Revision, error) {
	return e.chain.Append(ctx, in)
}

func (e *Engine) Delete(ctx context.Context, revisionID int64) error {
	return e.chain.Delete(ctx, revisionID)
}

func (e *Engine) Seal(ctx context.Context, revisionID, checkpointID int64) (Revision, error) {
	return e.chain.Seal(ctx, revisionID, checkpointID)
}

func (e *Engine) Get(ctx context.Context, revisionID int64) (Revision, error) {
	return e.chain.Get(ctx, revisionID)
}

func (e *Engine) IsNew(rev Revision) bool {
	return e.chain.IsNew(rev)
}

func (e *Engine) IsLatest(ctx context.Context, rev Revision) (bool, error) {
	return e.chain.IsLatest(ctx, rev)
}

func (e *Engine) Next(ctx context.Context, rev Revision) (*Revision, error) {
	return e.chain.Next(ctx, rev)
}

func (e *Engine) Previous(ctx context.Context, rev Revision) (*Revision, error) {
	return e.chain.Previous(ctx, rev)
}

func (e *Engine) Newest(ctx context.Context, g Group) (*Revision, error) {
	return e.chain.Newest(ctx, g)
}

// History returns the chain of g from its origin to its head.
func (e *Engine) History(ctx context.Context, g Group) ([]Revision, error) {
	return e.chain.History(ctx, g)
}

func (e *Engine) Others(ctx context.Context, rev Revision) ([]Revision, error) {
	return e.chain.Others(ctx, rev)
}

func (e *Engine) Verify(ctx context.Context, g Group) error {
	return e.chain.Verify(ctx, g)
}

func (e *Engine) CreateCheckpoint(ctx context.Context, c Checkpoint) (Checkpoint, error) {
	return e.checkpoints.Create(ctx, c)
}

func (e *Engine) Checkpoints(ctx context.Context) ([]Checkpoint, error) {
	return e.checkpoints.List(ctx)
}

func (e *Engine) OlderThanOrEqual(ctx context.Context, c Checkpoint) ([]Checkpoint, error) {
	return e.checkpoints.OlderThanOrEqual(ctx, c)
}

func (e *Engine) NewerThan(ctx context.Context, c Checkpoint) ([]Checkpoint, error) {
	return e.checkpoints.NewerThan(ctx, c)
}

func (e *Engine) LatestIDs(ctx context.Context, q LatestQuery) ([]int64, error) {
	return e.query.LatestIDs(ctx, q)
}

func (e *Engine) Latest(ctx context.Context, q LatestQuery) ([]Revision, error) {
	return e.query.Latest(ctx, q)
}

func (e *Engine) IsNewAt(rev Revision, c Checkpoint) bool {
	return e.query.IsNewAt(rev, c)
}

func (e *Engine) IsUpdatedAt(rev Revision, c Checkpoint) bool {
	return e.query.IsUpdatedAt(rev, c)
}

func (e *Engine) ResolveType(v any) (string, error) {
	return e.query.ResolveType(v)
}

// Separate moves the meta attributes of entity onto rev, or onto the
// entity's current revision when rev is nil.
func (e *Engine) Separate(ctx context.Context, entity Metadatable, rev *Revision) (Metadata, error) {
	return e.metadata.Separate(ctx, entity, rev)
}

func (e *Engine) CreateTimeline(ctx context.Context, title string) (Timeline, error) {
	return e.timelines.Create(ctx, title)
}

func (e *Engine) TimelineRevisions(ctx context.Context, timelineID int64, q LatestQuery) ([]int64, error) {
	return e.timelines.Revisions(ctx, timelineID, q)
}

// MetricsHandler serves the engine's prometheus registry.
func (e *Engine) MetricsHandler() http.Handler {
	return e.metrics.Handler()
}

// RegisterRoutes mounts the inspection API on router.
func (e *Engine) RegisterRoutes(router *echo.Echo) {
	var realtime rest.Realtime
	if e.signal != nil {
		realtime = e.signal
	}
	rest.NewHandler(
		e.chain,
		e.checkpoints,
		e.query,
		e.timelines,
		realtime,
		e.metrics.Handler(),
		e.log.Component("rest"),
	).RegisterRoutes(router)
}

// Close releases the storage and event connections opened by FromConfig.
func (e *Engine) Close() error {
	var first error
	for _, closer := range e.closers {
		if err := closer(); err != nil && first == nil {
			first = err
		}
	}
	e.closers = nil
	return first
}
