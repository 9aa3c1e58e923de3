// Package dashboard runs the request pipeline: load a table, ask the model
// for insights on a sample of it, map the insight lines to chart descriptors
// and render them. History, caching and metrics hang off the side of the
// pipeline and never change what gets rendered.
package dashboard

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/insightsboard/backend/internal/cache/redis"
	"github.com/insightsboard/backend/internal/charts"
	"github.com/insightsboard/backend/internal/dataset"
	"github.com/insightsboard/backend/internal/insights"
	"github.com/insightsboard/backend/internal/llm"
	"github.com/insightsboard/backend/internal/metrics"
	"github.com/insightsboard/backend/internal/storage/models"
	"github.com/insightsboard/backend/pkg/logger"
	"github.com/insightsboard/backend/pkg/utils"
)

const (
	SourceUpload   = "upload"
	SourceDatabase = "database"

	// NoDataMessage is shown when neither a file nor a database was given.
	NoDataMessage = "Please upload a file or connect to a database."
)

var (
	ErrNoSource        = errors.New("no data source provided")
	ErrHistoryDisabled = errors.New("run history is not configured")
)

// LoadError means no dataset could be produced. Its message is the one shown
// inline to the user.
type LoadError struct {
	Source string
	Err    error
}

func (e *LoadError) Error() string {
	if e.Source == SourceDatabase {
		return fmt.Sprintf("Error loading data from database: %v", e.Err)
	}
	return fmt.Sprintf("Error loading uploaded file: %v", e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

type Source struct {
	Kind string

	Filename string
	Data     []byte

	DatabaseURL string
	Table       string
}

type Request struct {
	APIKey         string
	NumVisuals     int
	Customizations string
	Source         Source
}

type Result struct {
	ID             string
	Source         string
	Rows           int
	Columns        []string
	NumVisuals     int
	Insights       string
	Lines          []string
	Descriptors    []insights.Descriptor
	Charts         []*charts.Chart
	Customizations string
	Cached         bool
	LatencyMS      int
}

// Event is a progress notification emitted while a dashboard is generated.
type Event struct {
	Type     string
	Message  string
	Insights string
	Chart    *charts.Chart
}

const (
	EventStatus   = "status"
	EventInsights = "insights"
	EventChart    = "chart"
)

type Progress func(Event)

type InsightCache interface {
	GetInsights(ctx context.Context, promptHash string) (*redis.Insights, error)
	SetInsights(ctx context.Context, promptHash string, entry *redis.Insights) error
	IncrementMetric(ctx context.Context, metricName string) error
}

type HistoryStore interface {
	InsertRun(ctx context.Context, run *models.DashboardRun) error
	InsertRunChart(ctx context.Context, chart *models.RunChart) error
	GetRun(ctx context.Context, id string) (*models.DashboardRun, error)
	ListRuns(ctx context.Context, limit int) ([]models.DashboardRun, error)
	RecordMetric(name string, value float64, tags map[string]string) error
}

type Config struct {
	Model           string
	DefaultVisuals  int
	SampleRows      int
	DatabaseMaxRows int
	DatabaseTimeout time.Duration
}

type Service struct {
	generator llm.Generator
	renderer  *charts.Renderer
	cfg       Config
	cache     InsightCache
	history   HistoryStore
}

func NewService(generator llm.Generator, renderer *charts.Renderer, cfg Config) *Service {
	if cfg.DefaultVisuals == 0 {
		cfg.DefaultVisuals = 3
	}
	if cfg.SampleRows == 0 {
		cfg.SampleRows = 5
	}
	return &Service{
		generator: generator,
		renderer:  renderer,
		cfg:       cfg,
	}
}

func (s *Service) WithCache(cache InsightCache) *Service {
	s.cache = cache
	return s
}

func (s *Service) WithHistory(history HistoryStore) *Service {
	s.history = history
	return s
}

func (s *Service) Generate(ctx context.Context, req Request) (*Result, error) {
	return s.GenerateWithProgress(ctx, req, nil)
}

// GenerateWithProgress is Generate with a callback invoked synchronously as
// each stage finishes.
func (s *Service) GenerateWithProgress(ctx context.Context, req Request, progress Progress) (*Result, error) {
	startTime := time.Now()
	runID := uuid.New().String()
	emit := func(e Event) {
		if progress != nil {
			progress(e)
		}
	}

	n := req.NumVisuals
	if n == 0 {
		n = s.cfg.DefaultVisuals
	}
	if n < insights.MinVisuals || n > insights.MaxVisuals {
		return nil, fmt.Errorf("%w: %d not in [%d, %d]", insights.ErrInvalidCount, n, insights.MinVisuals, insights.MaxVisuals)
	}

	run := &models.DashboardRun{
		ID:             runID,
		SourceKind:     req.Source.Kind,
		NumVisuals:     n,
		Customizations: req.Customizations,
		Model:          s.cfg.Model,
		CreatedAt:      startTime,
	}

	logger.Info("Generating dashboard",
		zap.String("run_id", runID),
		zap.String("source_kind", req.Source.Kind),
		zap.Int("num_visuals", n),
	)

	emit(Event{Type: EventStatus, Message: "Loading data"})
	stageStart := time.Now()
	d, err := s.load(ctx, req.Source)
	if err != nil {
		var loadErr *LoadError
		if errors.As(err, &loadErr) {
			metrics.DataLoadFailures.WithLabelValues(loadErr.Source).Inc()
			s.finish(ctx, run, startTime, models.RunStatusLoadError, err, nil)
		}
		return nil, err
	}
	metrics.StageDuration.WithLabelValues("load").Observe(time.Since(stageStart).Seconds())
	metrics.DatasetRows.Observe(float64(d.NumRows()))

	run.Source = d.Source
	run.Rows = d.NumRows()
	run.Columns = d.Columns

	if d.NumColumns() < 2 {
		err := fmt.Errorf("%w: got %d", insights.ErrTooFewColumns, d.NumColumns())
		s.finish(ctx, run, startTime, models.RunStatusFailed, err, nil)
		return nil, err
	}

	emit(Event{Type: EventStatus, Message: "Generating insights"})
	stageStart = time.Now()
	prompt := dataset.InsightPrompt(d, s.cfg.SampleRows)
	entry, cached, err := s.insightsFor(ctx, req.APIKey, prompt)
	if err != nil {
		s.finish(ctx, run, startTime, models.RunStatusFailed, err, nil)
		return nil, fmt.Errorf("failed to generate insights: %w", err)
	}
	metrics.StageDuration.WithLabelValues("insights").Observe(time.Since(stageStart).Seconds())

	run.Insights = entry.Text
	run.Cached = cached
	run.PromptTokens = entry.PromptTokens
	run.CompletionTokens = entry.CompletionTokens
	if entry.Model != "" {
		run.Model = entry.Model
	}

	lines := insights.SplitLines(entry.Text)
	metrics.InsightLines.Observe(float64(len(lines)))
	emit(Event{Type: EventInsights, Insights: entry.Text})

	descriptors, err := insights.Dispatch(entry.Text, n, d.Columns)
	if err != nil {
		s.finish(ctx, run, startTime, models.RunStatusFailed, err, nil)
		return nil, err
	}

	emit(Event{Type: EventStatus, Message: "Rendering charts"})
	stageStart = time.Now()
	rendered := make([]*charts.Chart, 0, len(descriptors))
	for _, desc := range descriptors {
		chart, err := s.renderer.Render(d, desc)
		if err != nil {
			s.finish(ctx, run, startTime, models.RunStatusFailed, err, descriptors)
			return nil, err
		}
		metrics.ChartsRendered.WithLabelValues(string(desc.Kind)).Inc()
		rendered = append(rendered, chart)
		emit(Event{Type: EventChart, Chart: chart})
	}
	metrics.StageDuration.WithLabelValues("render").Observe(time.Since(stageStart).Seconds())

	latency := s.finish(ctx, run, startTime, models.RunStatusOK, nil, descriptors)

	logger.Info("Dashboard generated",
		zap.String("run_id", runID),
		zap.Int("rows", d.NumRows()),
		zap.Int("insight_lines", len(lines)),
		zap.Int("charts", len(rendered)),
		zap.Bool("cached", cached),
		zap.Int("latency_ms", latency),
	)

	return &Result{
		ID:             runID,
		Source:         d.Source,
		Rows:           d.NumRows(),
		Columns:        d.Columns,
		NumVisuals:     n,
		Insights:       entry.Text,
		Lines:          lines,
		Descriptors:    descriptors,
		Charts:         rendered,
		Customizations: req.Customizations,
		Cached:         cached,
		LatencyMS:      latency,
	}, nil
}

func (s *Service) load(ctx context.Context, src Source) (*dataset.Dataset, error) {
	switch src.Kind {
	case SourceUpload:
		if src.Filename == "" && len(src.Data) == 0 {
			return nil, ErrNoSource
		}
		d, err := dataset.LoadUpload(src.Filename, bytes.NewReader(src.Data))
		if err != nil {
			return nil, &LoadError{Source: SourceUpload, Err: err}
		}
		return d, nil

	case SourceDatabase:
		if src.DatabaseURL == "" {
			return nil, ErrNoSource
		}
		d, err := dataset.LoadTable(ctx, src.DatabaseURL, src.Table, dataset.LoadOptions{
			MaxRows: s.cfg.DatabaseMaxRows,
			Timeout: s.cfg.DatabaseTimeout,
		})
		if err != nil {
			logger.Warn("Database load failed", zap.Error(err))
			return nil, &LoadError{Source: SourceDatabase, Err: err}
		}
		return d, nil

	default:
		return nil, ErrNoSource
	}
}

// insightsFor returns the model text for prompt, consulting the cache first.
// A request without a usable key fails before the cache is read.
// Cache failures are logged and otherwise ignored.
func (s *Service) insightsFor(ctx context.Context, apiKey, prompt string) (*redis.Insights, bool, error) {
	if kr, ok := s.generator.(llm.KeyResolver); ok {
		if _, err := kr.ResolveKey(apiKey); err != nil {
			return nil, false, err
		}
	}

	hash := utils.HashParts(s.cfg.Model, prompt)

	if s.cache != nil {
		hit, err := s.cache.GetInsights(ctx, hash)
		if err != nil {
			logger.Warn("Insight cache lookup failed", zap.Error(err))
		}
		if hit != nil {
			metrics.CacheHits.WithLabelValues("insights").Inc()
			s.countCache(ctx, "cache_hits")
			return hit, true, nil
		}
		metrics.CacheMisses.WithLabelValues("insights").Inc()
		s.countCache(ctx, "cache_misses")
	}

	completion, err := s.generator.GenerateInsights(ctx, apiKey, prompt)
	if err != nil {
		metrics.LLMRequests.WithLabelValues("error").Inc()
		return nil, false, err
	}
	metrics.LLMRequests.WithLabelValues("ok").Inc()
	metrics.LLMTokensUsed.WithLabelValues(completion.Model, "prompt").Add(float64(completion.Usage.PromptTokens))
	metrics.LLMTokensUsed.WithLabelValues(completion.Model, "completion").Add(float64(completion.Usage.CompletionTokens))

	entry := &redis.Insights{
		Text:             completion.Text,
		Model:            completion.Model,
		PromptTokens:     completion.Usage.PromptTokens,
		CompletionTokens: completion.Usage.CompletionTokens,
		CreatedAt:        time.Now(),
	}

	if s.cache != nil {
		if err := s.cache.SetInsights(ctx, hash, entry); err != nil {
			logger.Warn("Failed to cache insights", zap.Error(err))
		}
	}

	return entry, false, nil
}

func (s *Service) countCache(ctx context.Context, name string) {
	if err := s.cache.IncrementMetric(ctx, name); err != nil {
		logger.Debug("Failed to increment cache counter", zap.String("metric", name), zap.Error(err))
	}
}

// finish records the run outcome and returns its latency in milliseconds.
func (s *Service) finish(ctx context.Context, run *models.DashboardRun, start time.Time, status string, runErr error, descriptors []insights.Descriptor) int {
	latency := int(time.Since(start).Milliseconds())
	run.Status = status
	run.LatencyMS = latency
	if runErr != nil {
		run.Error = runErr.Error()
	}

	metrics.DashboardsTotal.WithLabelValues(status).Inc()
	metrics.StageDuration.WithLabelValues("total").Observe(time.Since(start).Seconds())

	if s.history == nil {
		return latency
	}

	// History is written on a fresh context so a cancelled request still
	// leaves a record.
	hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := s.history.InsertRun(hctx, run); err != nil {
		logger.Warn("Failed to record dashboard run", zap.String("run_id", run.ID), zap.Error(err))
		return latency
	}

	for _, desc := range descriptors {
		err := s.history.InsertRunChart(hctx, &models.RunChart{
			RunID:       run.ID,
			ChartIndex:  desc.Index,
			LineIndex:   desc.LineIndex,
			Kind:        string(desc.Kind),
			Title:       desc.Title,
			XColumn:     desc.X,
			YColumn:     desc.Y,
			ContentType: s.renderer.ContentType(),
			CreatedAt:   run.CreatedAt,
		})
		if err != nil {
			logger.Warn("Failed to record run chart", zap.String("run_id", run.ID), zap.Error(err))
		}
	}

	rendered := 0
	if status == models.RunStatusOK {
		rendered = len(descriptors)
	}

	tags := map[string]string{"status": status}
	for name, value := range map[string]float64{
		"dashboard_latency_ms": float64(latency),
		"dashboards":           1,
		"charts_rendered":      float64(rendered),
	} {
		if err := s.history.RecordMetric(name, value, tags); err != nil {
			logger.Warn("Failed to record metric", zap.String("metric", name), zap.Error(err))
		}
	}

	return latency
}

func (s *Service) History(ctx context.Context, limit int) ([]models.DashboardRun, error) {
	if s.history == nil {
		return nil, ErrHistoryDisabled
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.history.ListRuns(ctx, limit)
}

func (s *Service) Run(ctx context.Context, id string) (*models.DashboardRun, error) {
	if s.history == nil {
		return nil, ErrHistoryDisabled
	}
	return s.history.GetRun(ctx, id)
}
