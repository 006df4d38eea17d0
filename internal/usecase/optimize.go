package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"StockPulse/internal/domain/models"
	drepo "StockPulse/internal/domain/repository"
	"StockPulse/internal/engine/optimizer"
	svcmetrics "StockPulse/internal/service/metrics"
	applogger "StockPulse/pkg/logger"
	"StockPulse/pkg/queue"
)

// OptimizeJobType is the queue message type of walk-forward jobs.
const OptimizeJobType = "optimize"

const dateLayout = "2006-01-02"

// OptimizePayload is the queued message body.
type OptimizePayload struct {
	ID      string                 `json:"id"`
	Request models.OptimizeRequest `json:"request"`
}

type reportSaver interface {
	SaveWalkForward(ctx context.Context, report models.WalkForwardReport) error
}

// OptimizeService accepts walk-forward requests from the API and queues them.
type OptimizeService struct {
	pub   queue.Publisher
	state drepo.StateStore
	loc   *time.Location
}

func NewOptimizeService(pub queue.Publisher, state drepo.StateStore, loc *time.Location) *OptimizeService {
	if loc == nil {
		loc = time.UTC
	}
	return &OptimizeService{pub: pub, state: state, loc: loc}
}

// Submit validates the date range, records the job as queued and enqueues it.
func (s *OptimizeService) Submit(ctx context.Context, req models.OptimizeRequest) (models.OptimizeJobState, error) {
	if _, _, err := parseRange(req.From, req.To, s.loc); err != nil {
		return models.OptimizeJobState{}, err
	}
	job := models.OptimizeJobState{ID: uuid.NewString(), Status: models.JobQueued}
	if err := s.state.SaveJob(ctx, job); err != nil {
		return models.OptimizeJobState{}, fmt.Errorf("save job: %w", err)
	}
	if _, err := s.pub.Enqueue(ctx, OptimizeJobType, OptimizePayload{ID: job.ID, Request: req}); err != nil {
		return models.OptimizeJobState{}, fmt.Errorf("enqueue job: %w", err)
	}
	return job, nil
}

// Get returns nil when the job is unknown or expired.
func (s *OptimizeService) Get(ctx context.Context, id string) (*models.OptimizeJobState, error) {
	return s.state.LoadJob(ctx, id)
}

// OptimizeJob runs queued walk-forward requests on the worker.
type OptimizeJob struct {
	base    optimizer.Config
	loader  BarLoader
	state   drepo.StateStore
	reports reportSaver
	metrics *svcmetrics.JobMetrics
	l       *applogger.Logger
	loc     *time.Location
}

// NewOptimizeJob takes the search space and objective from base; the
// request supplies the windows, search and seed. reports may be nil.
func NewOptimizeJob(base optimizer.Config, loader BarLoader, state drepo.StateStore, reports reportSaver, metrics *svcmetrics.JobMetrics, l *applogger.Logger) (*OptimizeJob, error) {
	cal, err := base.Base.Session.Calendar()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrConfigInvalid, err)
	}
	if l == nil {
		l = applogger.NewNop()
	}
	return &OptimizeJob{
		base:    base,
		loader:  loader,
		state:   state,
		reports: reports,
		metrics: metrics,
		l:       l,
		loc:     cal.Location(),
	}, nil
}

func (j *OptimizeJob) Name() string { return "walk-forward optimizer" }
func (j *OptimizeJob) Type() string { return OptimizeJobType }

// Handle runs one job. Failures caused by the request itself are recorded
// on the job and not retried; storage failures are returned for a retry.
func (j *OptimizeJob) Handle(ctx context.Context, payload json.RawMessage) error {
	p, err := queue.Decode[OptimizePayload](payload)
	if err != nil {
		return err
	}
	start := time.Now()
	state := models.OptimizeJobState{ID: p.ID, Status: models.JobRunning}
	if err := j.state.SaveJob(ctx, state); err != nil {
		return fmt.Errorf("save job: %w", err)
	}

	rep, err := j.run(ctx, p)
	if err != nil {
		if errors.Is(err, models.ErrConfigInvalid) {
			j.fail(ctx, state, err, start)
			return nil
		}
		j.l.Warn("optimize job failed, will retry", applogger.String("job_id", p.ID), applogger.Error(err))
		return err
	}

	if j.reports != nil {
		if err := j.reports.SaveWalkForward(ctx, rep); err != nil {
			return fmt.Errorf("save report: %w", err)
		}
	}
	state.Status = models.JobSucceeded
	state.Report = &rep
	if err := j.state.SaveJob(ctx, state); err != nil {
		return fmt.Errorf("save job: %w", err)
	}
	j.metrics.Observe(string(models.JobSucceeded), len(rep.Windows), time.Since(start))
	j.l.Info("optimize job finished",
		applogger.String("job_id", p.ID),
		applogger.Int("windows", len(rep.Windows)),
		applogger.Float64("mean_out_sample_score", rep.MeanOutSampleScore),
		applogger.Duration("elapsed_ms", time.Since(start)),
	)
	return nil
}

func (j *OptimizeJob) run(ctx context.Context, p *OptimizePayload) (models.WalkForwardReport, error) {
	req := p.Request
	from, to, err := parseRange(req.From, req.To, j.loc)
	if err != nil {
		return models.WalkForwardReport{}, err
	}
	events, err := j.loader.LoadBars(ctx, req.Instruments, from, to)
	if err != nil {
		return models.WalkForwardReport{}, fmt.Errorf("load bars: %w", err)
	}

	cfg := j.base
	cfg.InSampleDays = req.InSampleDays
	cfg.OutSampleDays = req.OutSampleDays
	cfg.StepDays = req.StepDays
	if req.Search != "" {
		cfg.Search = req.Search
	}
	if req.Trials > 0 {
		cfg.Trials = req.Trials
	}
	cfg.Seed = req.Seed

	opt, err := optimizer.New(cfg, optimizer.WithLogger(j.l), optimizer.WithReportID(p.ID))
	if err != nil {
		return models.WalkForwardReport{}, err
	}
	return opt.Run(ctx, events)
}

func (j *OptimizeJob) fail(ctx context.Context, state models.OptimizeJobState, cause error, start time.Time) {
	state.Status = models.JobFailed
	state.Error = cause.Error()
	if err := j.state.SaveJob(ctx, state); err != nil {
		j.l.Error("save failed job", applogger.String("job_id", state.ID), applogger.Error(err))
	}
	j.metrics.Observe(string(models.JobFailed), 0, time.Since(start))
	j.l.Warn("optimize job rejected", applogger.String("job_id", state.ID), applogger.Error(cause))
}

// parseRange reads inclusive session dates.
func parseRange(from, to string, loc *time.Location) (time.Time, time.Time, error) {
	f, err := time.ParseInLocation(dateLayout, from, loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: from: %v", models.ErrConfigInvalid, err)
	}
	t, err := time.ParseInLocation(dateLayout, to, loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: to: %v", models.ErrConfigInvalid, err)
	}
	if t.Before(f) {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: to before from", models.ErrConfigInvalid)
	}
	return f, t.AddDate(0, 0, 1), nil
}

var _ queue.Job = (*OptimizeJob)(nil)
