// Package pipeline orchestrates a bill-of-quantities extraction job from
// document text to persisted, classified line items.
package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/WattMatt/engi-ops-nexus-sub014/internal/boq"
	"github.com/WattMatt/engi-ops-nexus-sub014/internal/config"
	"github.com/WattMatt/engi-ops-nexus-sub014/internal/model"
	"github.com/WattMatt/engi-ops-nexus-sub014/internal/resilience"
	"github.com/WattMatt/engi-ops-nexus-sub014/internal/store"
	"github.com/WattMatt/engi-ops-nexus-sub014/pkg/anthropic"
)

// ErrEmptyDocument is returned when a submitted document has no text.
var ErrEmptyDocument = eris.New("pipeline: document is empty")

// JobRequest asks for a document to be extracted. JobID is optional; a new
// job is created when it is empty or unknown.
type JobRequest struct {
	JobID    string
	Source   string
	Document string
}

// Pipeline runs extraction jobs against a store.
type Pipeline struct {
	cfg       *config.Config
	store     store.Store
	anthropic anthropic.Client
	keywords  []boq.KeywordRule
	filter    *boq.Filter
	retry     resilience.RetryConfig

	wg sync.WaitGroup
}

// New creates a Pipeline. Nil keyword rules or filter fall back to the
// built-in defaults. A nil client disables AI extraction.
func New(
	cfg *config.Config,
	st store.Store,
	aiClient anthropic.Client,
	keywords []boq.KeywordRule,
	filter *boq.Filter,
) *Pipeline {
	if keywords == nil {
		keywords = boq.DefaultKeywordRules()
	}
	if filter == nil {
		filter = boq.MustNewFilter(boq.DefaultFilterRules())
	}
	return &Pipeline{
		cfg:       cfg,
		store:     st,
		anthropic: aiClient,
		keywords:  keywords,
		filter:    filter,
		retry:     resilience.DefaultRetryConfig(),
	}
}

// Submit registers the job, moves it to processing and starts the run in the
// background. It returns store.ErrJobNotPending when the job already ran.
func (p *Pipeline) Submit(ctx context.Context, req JobRequest) (*model.ExtractionJob, error) {
	if strings.TrimSpace(req.Document) == "" {
		return nil, ErrEmptyDocument
	}

	job, err := p.ensureJob(ctx, req)
	if err != nil {
		return nil, err
	}

	job, err = p.store.MarkJobProcessing(ctx, job.ID)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: start job")
	}

	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.Extraction.JobTimeout())
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer cancel()
		if _, err := p.Run(runCtx, job, req.Document); err != nil {
			zap.L().Error("pipeline: background run failed",
				zap.String("job_id", job.ID),
				zap.Error(err),
			)
		}
	}()

	return job, nil
}

func (p *Pipeline) ensureJob(ctx context.Context, req JobRequest) (*model.ExtractionJob, error) {
	if req.JobID != "" {
		job, err := p.store.GetJob(ctx, req.JobID)
		if err == nil {
			if job.Status.Terminal() {
				return nil, eris.Wrapf(store.ErrJobNotPending, "pipeline: job %s already %s", job.ID, job.Status)
			}
			return job, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, eris.Wrap(err, "pipeline: get job")
		}
	}

	id := req.JobID
	if id == "" {
		id = uuid.NewString()
	}
	job, err := p.store.CreateJob(ctx, id, req.Source)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: create job")
	}
	return job, nil
}

// Wait blocks until every background run started by Submit has finished.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

// Extract creates a job for doc and runs it synchronously.
func (p *Pipeline) Extract(ctx context.Context, source, doc string) (*model.RunSummary, error) {
	if strings.TrimSpace(doc) == "" {
		return nil, ErrEmptyDocument
	}
	job, err := p.ensureJob(ctx, JobRequest{Source: source})
	if err != nil {
		return nil, err
	}
	job, err = p.store.MarkJobProcessing(ctx, job.ID)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: start job")
	}
	return p.Run(ctx, job, doc)
}

// Run extracts doc into items for a job that is already processing. The job
// ends completed with its counts, or failed with the error message and no
// persisted items.
func (p *Pipeline) Run(ctx context.Context, job *model.ExtractionJob, doc string) (*model.RunSummary, error) {
	start := time.Now()
	log := zap.L().With(zap.String("job_id", job.ID), zap.String("source", job.Source))
	log.Info("pipeline: starting extraction")

	summary := &model.RunSummary{JobID: job.ID, ByMethod: make(map[string]int)}

	ref, err := store.LoadReferenceData(ctx, p.store)
	if err != nil {
		return nil, p.fail(job.ID, eris.Wrap(err, "pipeline: load reference data"))
	}

	sheets := boq.Segment(doc)
	if len(sheets) == 0 && boq.HasSheetMarkers(doc) {
		log.Warn("pipeline: no billable sheets in document")
	}
	summary.Sheets = len(sheets)

	ai := boq.NewAIExtractor(p.anthropic, p.aiConfig(), ref.Categories)
	cascade := boq.Cascade{ai, boq.NewHeuristicParser(p.filter)}

	results, err := p.extractSheets(ctx, cascade, sheets)
	if err != nil {
		return nil, p.fail(job.ID, err)
	}

	items := mergeResults(results, summary.ByMethod)
	items, summary.Filtered = p.filter.Apply(items)
	summary.MatchedItems = p.enrich(job.ID, items, ref)
	summary.TotalItems = len(items)

	batches, err := p.persist(ctx, items)
	summary.Batches = batches
	if err != nil {
		return nil, p.fail(job.ID, err)
	}

	if err := p.store.CompleteJob(ctx, job.ID, summary.TotalItems, summary.MatchedItems); err != nil {
		return nil, p.fail(job.ID, eris.Wrap(err, "pipeline: complete job"))
	}

	usage, calls := ai.Usage()
	if calls > 0 {
		usage.LogCost(ai.Model(), job.ID)
	}
	summary.TokenUsage = model.TokenUsage{
		InputTokens:         int(usage.InputTokens),
		OutputTokens:        int(usage.OutputTokens),
		CacheCreationTokens: int(usage.CacheCreationInputTokens),
		CacheReadTokens:     int(usage.CacheReadInputTokens),
	}
	summary.EstimatedCost = usage.EstimateCost(ai.Model())
	summary.Duration = time.Since(start).Milliseconds()

	log.Info("pipeline: extraction complete",
		zap.Int("sheets", summary.Sheets),
		zap.Int("items", summary.TotalItems),
		zap.Int("matched", summary.MatchedItems),
		zap.Int("filtered", summary.Filtered),
		zap.Int("ai_calls", calls),
		zap.Int64("duration_ms", summary.Duration),
	)
	return summary, nil
}

// enrich finalises, classifies and matches items in place and stamps them
// with identity. It returns the number of catalog matches.
func (p *Pipeline) enrich(jobID string, items []model.ExtractedItem, ref model.ReferenceData) int {
	classifier := boq.NewClassifier(p.keywords, ref.Categories)
	matcher := boq.NewMatcher(ref.Catalog)
	now := time.Now().UTC()

	matched := 0
	for i := range items {
		it := &items[i]
		boq.FinalizeItem(it)
		classifier.Apply(it)
		if matcher.Apply(it) {
			matched++
		}
		it.ID = uuid.NewString()
		it.JobID = jobID
		it.CreatedAt = now
		it.ReviewStatus = model.ReviewStatusPending
	}
	return matched
}

// fail marks the job failed and removes any items it persisted. Cleanup uses
// a context detached from ctx so a cancelled run still records its outcome.
func (p *Pipeline) fail(jobID string, cause error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	log := zap.L().With(zap.String("job_id", jobID))
	log.Error("pipeline: extraction failed", zap.Error(cause))

	if n, err := p.store.DeleteItems(ctx, jobID); err != nil {
		log.Warn("pipeline: failed to delete partial items", zap.Error(err))
	} else if n > 0 {
		log.Info("pipeline: deleted partial items", zap.Int("items", n))
	}

	if err := p.store.FailJob(ctx, jobID, cause.Error()); err != nil {
		log.Error("pipeline: failed to mark job failed", zap.Error(err))
	}
	return cause
}

func (p *Pipeline) aiConfig() boq.AIConfig {
	ex := p.cfg.Extraction
	return boq.AIConfig{
		Model:             p.cfg.Anthropic.Model,
		MaxTokens:         p.cfg.Anthropic.MaxTokens,
		MinSheetChars:     ex.MinSheetChars,
		MaxSheetChars:     ex.MaxSheetChars,
		RequestTimeout:    ex.RequestTimeout(),
		RequestsPerMinute: ex.RequestsPerMinute,
		FailureThreshold:  ex.CircuitFailureThreshold,
		CacheTTL:          p.cfg.Anthropic.CacheTTL,
	}
}
