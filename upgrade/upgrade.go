// Package upgrade moves a blog database from older schema versions to the
// current one, one entity per step, so the work can be driven by repeated
// admin requests or run to completion from the command line.
package upgrade

import (
	"context"
	"strconv"
	"time"

	"github.com/adonese/bloog/apperr"
	"github.com/adonese/bloog/models"
	"github.com/adonese/bloog/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// Step outcomes reported by a phase.
const (
	// Exhausted means the phase has nothing left; move to the next phase.
	Exhausted = -1
	// Retry means the entity could not be written; try the same cursor again.
	Retry = 0
	// Advanced means the entity was handled; the cursor moves past it.
	Advanced = 1
)

const (
	defaultMaxRetries = 3
	defaultRetryDelay = 250 * time.Millisecond
)

var (
	tracer = otel.Tracer("github.com/adonese/bloog/upgrade")

	stepsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bloog",
		Subsystem: "upgrade",
		Name:      "steps_total",
		Help:      "Upgrade steps by phase and outcome",
	}, []string{"phase", "result"})
)

// StepResult is what a phase reports after looking at one entity.
type StepResult struct {
	Code  int
	Title string
	// Cursor identifies the entity handled, used as next cursor on Advanced.
	Cursor string
}

// PhaseFunc handles the first entity after cursor. An error together with
// Retry is logged and retried; an error with any other code stops the run.
type PhaseFunc func(ctx context.Context, cursor string) (StepResult, error)

// Progress is reported to the admin page after every step.
type Progress struct {
	Title string `json:"title"`
	Next  string `json:"next"`
	Phase int    `json:"phase"`
	Done  bool   `json:"done,omitempty"`
	Retry bool   `json:"retry,omitempty"`
	Error string `json:"error,omitempty"`
}

// Runner drives the upgrade phases.
type Runner struct {
	Store       *store.Store
	Logger      *logrus.Logger
	BloogConfig models.BloogConfig
	// MaxRetries bounds consecutive retries of one cursor in RunAll.
	MaxRetries int
	// RetryDelay is the pause before the first retry of a cursor. Each
	// further retry waits one more RetryDelay.
	RetryDelay time.Duration

	phases map[int]PhaseFunc
}

func NewRunner(st *store.Store, cfg models.BloogConfig, logger *logrus.Logger) *Runner {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	r := &Runner{Store: st, Logger: logger, BloogConfig: cfg, MaxRetries: defaultMaxRetries, RetryDelay: defaultRetryDelay}
	r.phases = map[int]PhaseFunc{
		1: r.Phase1,
		2: r.Phase2,
	}
	return r
}

// Phases is the number of upgrade phases.
func (r *Runner) Phases() int {
	return len(r.phases)
}

// Step runs phase on the entity after next. A phase outside the known ones
// reports Done.
func (r *Runner) Step(ctx context.Context, phase int, next string) (Progress, error) {
	if err := ctx.Err(); err != nil {
		return Progress{}, err
	}
	fn, ok := r.phases[phase]
	if !ok {
		return Progress{Phase: phase, Done: true}, nil
	}
	ctx, span := tracer.Start(ctx, "upgrade.Step")
	defer span.End()
	span.SetAttributes(attribute.Int("bloog.upgrade.phase", phase), attribute.String("bloog.upgrade.cursor", next))

	res, err := fn(ctx, next)
	if err != nil && res.Code != Retry {
		span.RecordError(err)
		stepsTotal.WithLabelValues(strconv.Itoa(phase), "error").Inc()
		return Progress{}, err
	}
	log := r.Logger.WithFields(logrus.Fields{"phase": phase, "title": res.Title, "cursor": next})

	progress := Progress{Phase: phase}
	switch res.Code {
	case Exhausted:
		stepsTotal.WithLabelValues(strconv.Itoa(phase), "exhausted").Inc()
		log.Info("upgrade phase finished")
		progress.Phase = phase + 1
	case Retry:
		stepsTotal.WithLabelValues(strconv.Itoa(phase), "retry").Inc()
		progress.Title = res.Title
		progress.Next = next
		progress.Retry = true
		if err != nil {
			span.RecordError(err)
			progress.Error = apperr.Message(err)
			log = log.WithField("error", err.Error())
		}
		log.Warn("upgrade step failed, trying again")
	default:
		stepsTotal.WithLabelValues(strconv.Itoa(phase), "advanced").Inc()
		log.Info("upgraded entity")
		progress.Title = res.Title
		progress.Next = res.Cursor
	}
	if _, ok := r.phases[progress.Phase]; !ok {
		return Progress{Phase: progress.Phase, Done: true}, nil
	}
	return progress, nil
}

// Backoff waits attempt times RetryDelay, or until ctx is done.
func (r *Runner) Backoff(ctx context.Context, attempt int) error {
	if r.RetryDelay <= 0 || attempt <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(time.Duration(attempt) * r.RetryDelay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunAll runs every phase to completion and returns the number of entities
// upgraded. It gives up once one cursor has failed MaxRetries times in a row.
func (r *Runner) RunAll(ctx context.Context) (int, error) {
	phase, next := 1, ""
	upgraded, retries := 0, 0
	for {
		p, err := r.Step(ctx, phase, next)
		if err != nil {
			return upgraded, err
		}
		if p.Done {
			return upgraded, nil
		}
		switch {
		case p.Retry:
			retries++
			if retries > r.MaxRetries {
				return upgraded, apperr.Newf(apperr.ErrConflict, "upgrade phase %d stuck after %q: %s", phase, next, p.Error)
			}
			if err := r.Backoff(ctx, retries); err != nil {
				return upgraded, err
			}
			continue
		case p.Phase == phase:
			upgraded++
		}
		retries = 0
		phase, next = p.Phase, p.Next
	}
}
