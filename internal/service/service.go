package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"offer-attribution/internal/cache"
	"offer-attribution/internal/database"
	"offer-attribution/internal/events"
	"offer-attribution/internal/features"
	"offer-attribution/internal/ingest"
	"offer-attribution/internal/models"
	"offer-attribution/internal/pipeline"
	"offer-attribution/internal/tracing"
	"offer-attribution/internal/validation"
)

var (
	// ErrInvalidInput wraps every error caused by malformed records.
	ErrInvalidInput = errors.New("invalid input")
	// ErrRunNotFound is returned when a run is neither cached nor stored.
	ErrRunNotFound = database.ErrRunNotFound
)

// RunStore persists runs and their output tables.
type RunStore interface {
	SaveRun(ctx context.Context, summary models.RunSummary, result pipeline.Result) error
	GetRun(ctx context.Context, runID string) (models.RunSummary, error)
	GetTransactions(ctx context.Context, runID, person string) ([]models.AttributedTransaction, error)
	GetCompletions(ctx context.Context, runID string) (models.CompletionTable, error)
	DeleteRun(ctx context.Context, runID string) error
}

// Options holds the collaborators of a Service. Nil fields fall back to
// no store, no cache, disabled events, all features off and a no-op tracer.
type Options struct {
	Store    RunStore
	Cache    cache.Cache
	CacheTTL time.Duration
	Events   *events.Manager
	Features *features.Manager
	Tracer   *tracing.Tracer
}

// Service runs the attribution pipeline and serves its results.
type Service struct {
	store    RunStore
	cache    cache.Cache
	cacheTTL time.Duration
	events   *events.Manager
	features *features.Manager
	tracer   *tracing.Tracer
	newID    func() string
}

// NewService creates a new service instance.
func NewService(opts Options) *Service {
	s := &Service{
		store:    opts.Store,
		cache:    opts.Cache,
		cacheTTL: opts.CacheTTL,
		events:   opts.Events,
		features: opts.Features,
		tracer:   opts.Tracer,
		newID:    func() string { return uuid.New().String() },
	}
	if s.cacheTTL <= 0 {
		s.cacheTTL = time.Hour
	}
	if s.events == nil {
		s.events = events.NewManager(false)
	}
	if s.features == nil {
		s.features = features.NewManager()
	}
	if s.tracer == nil {
		s.tracer = tracing.Noop()
	}

	s.events.Subscribe(events.EventRunCompleted, logRunCompleted)
	s.events.Subscribe(events.EventRunFailed, logRunFailed)
	s.events.Subscribe(events.EventRunDeleted, logRunDeleted)

	return s
}

// RunRaw parses raw transcript records and runs the pipeline over them.
func (s *Service) RunRaw(ctx context.Context, req models.CreateRunRequest) (models.RunSummary, pipeline.Result, error) {
	for i := range req.Events {
		req.Events[i].Person = validation.SanitizeString(req.Events[i].Person)
	}
	for i := range req.Portfolio {
		req.Portfolio[i].ID = validation.SanitizeString(req.Portfolio[i].ID)
		req.Portfolio[i].OfferType = validation.SanitizeString(req.Portfolio[i].OfferType)
	}

	parsed, err := ingest.ParseRawEvents(req.Events)
	if err != nil {
		s.publishFailed(ctx, "parse", err)
		return models.RunSummary{}, pipeline.Result{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	return s.Run(ctx, parsed, req.Portfolio)
}

// Run validates the inputs, executes the three stages and, depending on the
// feature flags, stores, caches and announces the result. Any invalid record
// fails the whole run.
func (s *Service) Run(ctx context.Context, evts []models.Event, offers []models.Offer) (models.RunSummary, pipeline.Result, error) {
	ctx, span := s.tracer.StartSpan(ctx, "attribution.run")
	defer span.End()

	if len(evts) == 0 {
		err := fmt.Errorf("%w: no events provided", ErrInvalidInput)
		span.SetStatus(codes.Error, err.Error())
		return models.RunSummary{}, pipeline.Result{}, err
	}

	if err := s.validate(ctx, evts, offers); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "validation failed")
		s.publishFailed(ctx, "validate", err)
		return models.RunSummary{}, pipeline.Result{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	result := s.runStages(ctx, evts, offers)

	summary := models.RunSummary{
		RunID:             s.newID(),
		Events:            len(evts),
		Offers:            len(offers),
		EnrichedEvents:    len(result.Enriched),
		Transactions:      len(result.Transactions),
		AttributedToOffer: result.AttributedCount(),
		Customers:         len(result.Completions.Rows),
		OfferTypes:        result.Completions.OfferTypes,
	}
	span.SetAttributes(
		attribute.String("run.id", summary.RunID),
		attribute.Int("run.events", summary.Events),
		attribute.Int("run.transactions", summary.Transactions),
	)

	if s.store != nil && s.features.IsEnabled(features.FeaturePersistResults) {
		if err := s.store.SaveRun(ctx, summary, result); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "persist failed")
			s.publishFailed(ctx, "persist", err)
			return models.RunSummary{}, pipeline.Result{}, fmt.Errorf("failed to persist run: %w", err)
		}
	}

	if s.cacheEnabled() {
		s.cacheSummary(ctx, summary)
		s.cacheTransactions(ctx, summary.RunID, result.Transactions)
		s.cacheCompletions(ctx, summary.RunID, result.Completions)
	}

	s.publish(ctx, func() { s.events.PublishRunCompleted(ctx, summary) })

	return summary, result, nil
}

func (s *Service) validate(ctx context.Context, evts []models.Event, offers []models.Offer) error {
	_, span := s.tracer.StartSpan(ctx, "attribution.validate")
	defer span.End()

	if err := validation.ValidatePortfolio(offers); err != nil {
		return err
	}
	return validation.ValidateEvents(evts)
}

func (s *Service) runStages(ctx context.Context, evts []models.Event, offers []models.Offer) pipeline.Result {
	var result pipeline.Result

	_, span := s.tracer.StartSpan(ctx, "pipeline.enrich_offers")
	result.Enriched = pipeline.EnrichOffers(evts, offers)
	span.SetAttributes(attribute.Int("rows", len(result.Enriched)))
	span.End()

	_, span = s.tracer.StartSpan(ctx, "pipeline.aggregate_completions")
	result.Completions = pipeline.AggregateCompletions(result.Enriched)
	span.SetAttributes(attribute.Int("rows", len(result.Completions.Rows)))
	span.End()

	_, span = s.tracer.StartSpan(ctx, "pipeline.attribute_transactions")
	result.Transactions = pipeline.AttributeTransactions(evts, result.Enriched)
	span.SetAttributes(attribute.Int("rows", len(result.Transactions)))
	span.End()

	return result
}

// GetRun returns the summary of a cached or stored run.
func (s *Service) GetRun(ctx context.Context, runID string) (models.RunSummary, error) {
	var summary models.RunSummary

	if s.cacheEnabled() {
		err := cache.GetJSON(ctx, s.cache, cache.SummaryKey(runID), &summary)
		if err == nil {
			return summary, nil
		}
		if !errors.Is(err, cache.ErrNotFound) {
			log.WithError(err).WithField("run_id", runID).Warn("Failed reading summary from cache")
		}
	}

	if s.store == nil {
		return models.RunSummary{}, ErrRunNotFound
	}

	summary, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return models.RunSummary{}, err
	}
	if s.cacheEnabled() {
		s.cacheSummary(ctx, summary)
	}

	return summary, nil
}

// GetTransactions returns the attributed transactions of a run, optionally
// only those of one person.
func (s *Service) GetTransactions(ctx context.Context, runID, person string) ([]models.AttributedTransaction, error) {
	var txns []models.AttributedTransaction

	if s.cacheEnabled() {
		err := cache.GetJSON(ctx, s.cache, cache.TransactionsKey(runID), &txns)
		if err == nil {
			return filterByPerson(txns, person), nil
		}
		if !errors.Is(err, cache.ErrNotFound) {
			log.WithError(err).WithField("run_id", runID).Warn("Failed reading transactions from cache")
		}
	}

	if s.store == nil {
		return nil, ErrRunNotFound
	}
	if !s.cacheEnabled() {
		return s.store.GetTransactions(ctx, runID, person)
	}

	// load the whole table so later lookups for any person hit the cache
	txns, err := s.store.GetTransactions(ctx, runID, "")
	if err != nil {
		return nil, err
	}
	s.cacheTransactions(ctx, runID, txns)

	return filterByPerson(txns, person), nil
}

// GetCompletions returns the completion table of a run.
func (s *Service) GetCompletions(ctx context.Context, runID string) (models.CompletionTable, error) {
	var table models.CompletionTable

	if s.cacheEnabled() {
		err := cache.GetJSON(ctx, s.cache, cache.CompletionsKey(runID), &table)
		if err == nil {
			return table, nil
		}
		if !errors.Is(err, cache.ErrNotFound) {
			log.WithError(err).WithField("run_id", runID).Warn("Failed reading completions from cache")
		}
	}

	if s.store == nil {
		return models.CompletionTable{}, ErrRunNotFound
	}

	table, err := s.store.GetCompletions(ctx, runID)
	if err != nil {
		return models.CompletionTable{}, err
	}
	if s.cacheEnabled() {
		s.cacheCompletions(ctx, runID, table)
	}

	return table, nil
}

// DeleteRun evicts a run's cached tables and removes it from the store. A
// run that only lives in the cache counts as found.
func (s *Service) DeleteRun(ctx context.Context, runID string) error {
	cached := false
	if s.cache != nil {
		if _, err := s.cache.Get(ctx, cache.SummaryKey(runID)); err == nil {
			cached = true
		}
		if err := s.cache.Delete(ctx, cache.RunKeys(runID)...); err != nil {
			log.WithError(err).WithField("run_id", runID).Warn("Failed evicting run from cache")
		}
	}

	stored := false
	if s.store != nil {
		err := s.store.DeleteRun(ctx, runID)
		switch {
		case err == nil:
			stored = true
		case !errors.Is(err, ErrRunNotFound):
			return err
		}
	}

	if !cached && !stored {
		return ErrRunNotFound
	}

	s.publish(ctx, func() { s.events.PublishRunDeleted(ctx, runID) })
	return nil
}

func (s *Service) cacheEnabled() bool {
	return s.cache != nil && s.features.IsEnabled(features.FeatureCacheEnabled)
}

func (s *Service) cacheSummary(ctx context.Context, summary models.RunSummary) {
	if err := cache.SetJSON(ctx, s.cache, cache.SummaryKey(summary.RunID), summary, s.cacheTTL); err != nil {
		log.WithError(err).WithField("run_id", summary.RunID).Warn("Failed caching summary")
	}
}

// cacheTransactions stores a run's transaction table. Cache failures are
// logged and never fail the caller.
func (s *Service) cacheTransactions(ctx context.Context, runID string, txns []models.AttributedTransaction) {
	if txns == nil {
		txns = []models.AttributedTransaction{}
	}
	if err := cache.SetJSON(ctx, s.cache, cache.TransactionsKey(runID), txns, s.cacheTTL); err != nil {
		log.WithError(err).WithField("run_id", runID).Warn("Failed caching transactions")
	}
}

func (s *Service) cacheCompletions(ctx context.Context, runID string, table models.CompletionTable) {
	if err := cache.SetJSON(ctx, s.cache, cache.CompletionsKey(runID), table, s.cacheTTL); err != nil {
		log.WithError(err).WithField("run_id", runID).Warn("Failed caching completions")
	}
}

func (s *Service) publish(ctx context.Context, fn func()) {
	if s.features.IsEnabled(features.FeatureEventHooksEnabled) {
		fn()
	}
}

func (s *Service) publishFailed(ctx context.Context, stage string, err error) {
	s.publish(ctx, func() { s.events.PublishRunFailed(ctx, stage, err) })
}

func logRunDeleted(ctx context.Context, e events.Event) error {
	if data, ok := e.Data.(events.RunDeletedData); ok {
		log.WithField("run_id", data.RunID).Info("Attribution run deleted")
	}
	return nil
}

func logRunCompleted(ctx context.Context, e events.Event) error {
	if data, ok := e.Data.(events.RunCompletedData); ok {
		log.WithFields(log.Fields{
			"run_id":       data.Summary.RunID,
			"events":       data.Summary.Events,
			"transactions": data.Summary.Transactions,
			"attributed":   data.Summary.AttributedToOffer,
			"customers":    data.Summary.Customers,
		}).Info("Attribution run completed")
	}
	return nil
}

func logRunFailed(ctx context.Context, e events.Event) error {
	if data, ok := e.Data.(events.RunFailedData); ok {
		log.WithError(data.Err).WithField("stage", data.Stage).Warn("Attribution run failed")
	}
	return nil
}

func filterByPerson(txns []models.AttributedTransaction, person string) []models.AttributedTransaction {
	if person == "" {
		return txns
	}
	filtered := []models.AttributedTransaction{}
	for _, t := range txns {
		if t.Person == person {
			filtered = append(filtered, t)
		}
	}
	return filtered
}
