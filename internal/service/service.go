// Package service orchestrates classification jobs against a remote reasoner and
// merges their results into branch content.
package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/raphaelgruber/snowclass/internal/db"
	"github.com/raphaelgruber/snowclass/internal/differ"
	"github.com/raphaelgruber/snowclass/internal/metrics"
	"github.com/raphaelgruber/snowclass/internal/models"
	"github.com/raphaelgruber/snowclass/internal/reasoner"
	"golang.org/x/sync/errgroup"
)

// Sentinel errors returned to callers. Use errors.Is to check them.
var (
	ErrNotFound      = errors.New("classification not found")
	ErrConfiguration = errors.New("classification configuration error")
	ErrIllegalState  = errors.New("illegal classification state")
	ErrCreateFailed  = errors.New("failed to create classification")

	ErrNoResults = &stateError{"This classification has no results yet."}
	ErrStale     = &stateError{"Classification is stale."}
)

// stateError is an illegal-state condition with a fixed user-facing message.
type stateError struct{ msg string }

func (e *stateError) Error() string        { return e.msg }
func (e *stateError) Is(target error) bool { return target == ErrIllegalState }

// Messages recorded on jobs failed by the service itself.
const (
	MessageTimeout         = "Remote service taking too long."
	MessageIngestFailed    = "Failed to capture remote classification results."
	MessageRestarted       = "Termserver restarted."
	MessageSaveInterrupted = "Save interrupted by shutdown."
	lockReasonSavePrefix   = "Saving classification "
)

// Store persists classifications and their results.
type Store interface {
	SaveClassification(ctx context.Context, c *models.Classification) error
	TransitionClassification(ctx context.Context, c *models.Classification, from models.Status) error
	GetClassification(ctx context.Context, id string) (*models.Classification, error)
	ListClassifications(ctx context.Context, path string) ([]models.Classification, error)
	FindClassificationsByStatus(ctx context.Context, statuses ...models.Status) ([]models.Classification, error)
	DeleteAllClassifications(ctx context.Context) error

	SaveRelationshipChanges(ctx context.Context, changes []models.RelationshipChange) error
	SaveEquivalentConcepts(ctx context.Context, sets []models.EquivalentConcepts, position int) error
	CountRelationshipChanges(ctx context.Context, classificationID string) (int, error)
	CountEquivalentConcepts(ctx context.Context, classificationID string) (int, error)
	PageRelationshipChanges(ctx context.Context, classificationID, sourceID string, offset, limit int) ([]models.RelationshipChange, int, error)
	StreamRelationshipChanges(ctx context.Context, classificationID string, window int, fn func([]models.RelationshipChange) error) error
	ListEquivalentConcepts(ctx context.Context, classificationID string) ([]models.EquivalentConcepts, error)
}

// Branches is the version-control collaborator.
type Branches interface {
	BranchHead(ctx context.Context, path string) (time.Time, error)
	BranchMetadata(ctx context.Context, path string) (map[string]string, error)
	OpenTransaction(ctx context.Context, path, reason string, identity models.Identity) (Transaction, error)
}

// Transaction is one open commit on a branch.
type Transaction interface {
	CommitID() string
	LoadConcepts(ctx context.Context, ids []string) ([]models.Concept, error)
	UpdateConcepts(ctx context.Context, concepts []models.Concept) error
	Commit(ctx context.Context) (time.Time, error)
	Abort(ctx context.Context) error
}

// Concepts looks up live concept content.
type Concepts interface {
	FindConcept(ctx context.Context, path, conceptID string) (*models.Concept, error)
	FindConceptMinis(ctx context.Context, path string, ids []string) (map[string]models.ConceptMini, error)
}

// Exporter writes the pending changes of a branch as a delta archive.
type Exporter interface {
	ExportDelta(ctx context.Context, path string, w io.Writer) error
}

// Deps are the collaborators of a ClassificationService.
type Deps struct {
	Store    Store
	Branches Branches
	Concepts Concepts
	Index    differ.Index
	Exporter Exporter
	Reasoner reasoner.Client
	Metrics  metrics.Recorder
	Clock    func() time.Time
	Logger   *slog.Logger
}

// Options tune polling, ingestion and saving.
type Options struct {
	PollInterval time.Duration
	CoolOff      time.Duration
	AbortAfter   time.Duration
	SaveWorkers  int
	SaveQueue    int

	CheckBatchSize int
	WriteBatchSize int
	SaveWindow     int
	MiniCacheTTL   time.Duration
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.CoolOff <= 0 {
		o.CoolOff = 30 * time.Second
	}
	if o.AbortAfter <= 0 {
		o.AbortAfter = 120 * time.Minute
	}
	if o.SaveWorkers <= 0 {
		o.SaveWorkers = 2
	}
	if o.SaveQueue <= 0 {
		o.SaveQueue = 64
	}
	if o.CheckBatchSize <= 0 {
		o.CheckBatchSize = differ.MaxBatchSize
	}
	if o.WriteBatchSize <= 0 {
		o.WriteBatchSize = 10_000
	}
	if o.SaveWindow <= 0 {
		o.SaveWindow = 10_000
	}
	if o.MiniCacheTTL <= 0 {
		o.MiniCacheTTL = 5 * time.Minute
	}
	return o
}

// ClassificationService creates, tracks, reads and saves classification jobs.
type ClassificationService struct {
	store    Store
	branches Branches
	concepts Concepts
	exporter Exporter
	reasoner reasoner.Client
	differ   *differ.Differ
	metrics  metrics.Recorder
	now      func() time.Time
	logger   *slog.Logger
	opts     Options

	tracker *Tracker
	poller  *Poller
	minis   *cache.Cache

	saveMu    sync.Mutex
	saves     chan SaveTask
	pathMu    sync.Mutex
	pathLocks map[string]*sync.Mutex
}

// New creates a ClassificationService.
func New(deps Deps, opts Options) *ClassificationService {
	opts = opts.withDefaults()
	if deps.Metrics == nil {
		deps.Metrics = metrics.Discard
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	s := &ClassificationService{
		store:     deps.Store,
		branches:  deps.Branches,
		concepts:  deps.Concepts,
		exporter:  deps.Exporter,
		reasoner:  deps.Reasoner,
		differ:    differ.New(deps.Index, opts.CheckBatchSize),
		metrics:   deps.Metrics,
		now:       deps.Clock,
		logger:    deps.Logger,
		opts:      opts,
		tracker:   NewTracker(),
		minis:     cache.New(opts.MiniCacheTTL, 2*opts.MiniCacheTTL),
		saves:     make(chan SaveTask, opts.SaveQueue),
		pathLocks: make(map[string]*sync.Mutex),
	}
	s.poller = &Poller{svc: s}
	return s
}

// DepsFromDB wires every storage collaborator to one SurrealDB client.
func DepsFromDB(client *db.Client, rc reasoner.Client) Deps {
	return Deps{
		Store:    client,
		Branches: dbBranches{client},
		Concepts: client,
		Index:    client,
		Exporter: client,
		Reasoner: rc,
	}
}

// dbBranches narrows *db.Transaction to the Transaction interface.
type dbBranches struct {
	*db.Client
}

func (b dbBranches) OpenTransaction(ctx context.Context, path, reason string, identity models.Identity) (Transaction, error) {
	tx, err := b.Client.OpenTransaction(ctx, path, reason, identity)
	if err != nil {
		return nil, err
	}
	return tx, nil
}

// Tracker returns the in-progress job set.
func (s *ClassificationService) Tracker() *Tracker {
	return s.tracker
}

// Poller returns the status poller.
func (s *ClassificationService) Poller() *Poller {
	return s.poller
}

// Run marks interrupted jobs as failed, then runs the poller and the save
// workers until ctx is cancelled.
func (s *ClassificationService) Run(ctx context.Context) error {
	if _, err := s.RecoverInterrupted(ctx); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.poller.Run(ctx)
	})
	for i := range s.opts.SaveWorkers {
		g.Go(func() error {
			return s.saveWorker(ctx, i)
		})
	}
	return g.Wait()
}

// RecoverInterrupted fails every persisted job a previous process left
// unfinished. Nothing about the remote work survives a restart, and a save
// that was running has been aborted with its transaction.
func (s *ClassificationService) RecoverInterrupted(ctx context.Context) (int, error) {
	jobs, err := s.store.FindClassificationsByStatus(ctx, models.StatusScheduled, models.StatusRunning, models.StatusSavingInProgress)
	if err != nil {
		return 0, err
	}

	now := s.now()
	for i := range jobs {
		job := &jobs[i]
		if job.Status == models.StatusSavingInProgress {
			job.Status = models.StatusSaveFailed
		} else {
			job.Status = models.StatusFailed
			job.CompletionDate = &now
		}
		job.SetError(MessageRestarted)
		if err := s.store.SaveClassification(ctx, job); err != nil {
			return i, err
		}
		s.metrics.RecordTransition(string(job.Status))
	}

	if len(jobs) > 0 {
		s.logger.Info("failed classifications interrupted by restart", "count", len(jobs))
	}
	return len(jobs), nil
}

// DeleteAll removes every classification and its results.
func (s *ClassificationService) DeleteAll(ctx context.Context) error {
	if err := s.store.DeleteAllClassifications(ctx); err != nil {
		return err
	}
	s.tracker.Clear()
	s.minis.Flush()
	s.logger.Info("deleted all classifications")
	return nil
}

// pathLock serializes saves to one branch.
func (s *ClassificationService) pathLock(path string) *sync.Mutex {
	s.pathMu.Lock()
	defer s.pathMu.Unlock()
	mu, ok := s.pathLocks[path]
	if !ok {
		mu = &sync.Mutex{}
		s.pathLocks[path] = mu
	}
	return mu
}

// persist writes job and reports the transition. Failures are logged only.
func (s *ClassificationService) persist(ctx context.Context, job *models.Classification) error {
	if err := s.store.SaveClassification(ctx, job); err != nil {
		s.logger.Error("failed to persist classification", "classification_id", job.ID, "status", job.Status, "error", err)
		return err
	}
	s.metrics.RecordTransition(string(job.Status))
	return nil
}
