package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"benefit-worker/internal/brokers"
	"benefit-worker/internal/common/errors"
	"benefit-worker/internal/common/logging"
	"benefit-worker/internal/metrics"
	"benefit-worker/internal/models"
	"benefit-worker/internal/routing"
)

// DefaultWorkers is the size of the worker pool
const DefaultWorkers = 4

// DefaultTag is the need type this worker answers
const DefaultTag = "ParentalBenefit"

// Outcome is what happened to one record
type Outcome string

const (
	OutcomeRejected Outcome = metrics.OutcomeRejected
	OutcomeSolved   Outcome = metrics.OutcomeSolved
	OutcomeFailed   Outcome = metrics.OutcomeFailed
)

// BenefitLookup fetches the two current decisions for a subject
type BenefitLookup interface {
	CurrentParentalBenefit(ctx context.Context, subjectID string) (*models.Decision, error)
	CurrentPregnancyBenefit(ctx context.Context, subjectID string) (*models.Decision, error)
}

// Options tunes a Pipeline. Zero values get defaults.
type Options struct {
	Workers int
	Tag     string
	Metrics *metrics.Metrics
	Logger  logging.Logger
	// SecureLogger receives full record payloads
	SecureLogger logging.Logger
}

// Pipeline gates, enriches and republishes need records
type Pipeline struct {
	engine    *routing.RuleEngine
	lookups   BenefitLookup
	publisher brokers.Publisher
	workers   int
	tag       string
	metrics   *metrics.Metrics
	logger    logging.Logger
	secure    logging.Logger
	running   atomic.Bool
}

// New creates a pipeline
func New(engine *routing.RuleEngine, lookups BenefitLookup, publisher brokers.Publisher, opts Options) *Pipeline {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.Tag == "" {
		opts.Tag = DefaultTag
	}
	if opts.Logger == nil {
		opts.Logger = logging.GetGlobalLogger()
	}
	if opts.SecureLogger == nil {
		opts.SecureLogger = logging.GetSecureLogger()
	}

	return &Pipeline{
		engine:    engine,
		lookups:   lookups,
		publisher: publisher,
		workers:   opts.Workers,
		tag:       opts.Tag,
		metrics:   opts.Metrics,
		logger:    opts.Logger.WithFields(logging.String("component", "pipeline")),
		secure:    opts.SecureLogger,
	}
}

// Process handles one stream message to completion. It never returns an
// error: failures are logged and counted, and the record is left unpublished.
func (p *Pipeline) Process(ctx context.Context, msg *brokers.IncomingMessage) (outcome Outcome) {
	defer p.metrics.TrackInFlight()()

	logger := p.logger
	defer func() {
		if r := recover(); r != nil {
			err := errors.InternalError(fmt.Sprintf("panic while processing record: %v", r), nil)
			logger.Error("Failed to process need record", err, logging.String("stack", string(debug.Stack())))
			p.metrics.IncRecord(string(OutcomeFailed), "panic")
			outcome = OutcomeFailed
		}
	}()

	rec, verdict := p.engine.EvaluateMessage(msg.Body)
	if !verdict.Accepted {
		logger.Debug("Rejected need record",
			logging.String("rule", verdict.Rule),
			logging.Err(verdict.Reason),
			logging.String("topic", msg.Topic),
			logging.Int64("offset", msg.Offset),
		)
		p.metrics.IncRecord(string(OutcomeRejected), verdict.Rule)
		return OutcomeRejected
	}

	ctx = logging.ContextWithRecordID(ctx, rec.ID())
	logger = p.logger.WithContext(ctx).WithFields(
		logging.String("subject_id", rec.SubjectID()),
		logging.String("case_id", rec.CaseID()),
	)

	logger.Info("Received need record")
	p.secure.WithContext(ctx).Info("Received need record", logging.String("payload", string(msg.Body)))

	solved, err := p.solve(ctx, rec)
	if err == nil {
		err = p.publisher.Publish(ctx, msg.Reply(solved))
		if err != nil {
			err = errors.ConnectionError("failed to publish solved record", err)
		}
	}
	if err != nil {
		logger.Error("Failed to process need record", err)
		p.metrics.IncRecord(string(OutcomeFailed), string(errors.GetType(err)))
		return OutcomeFailed
	}

	logger.Info("Solved need record")
	p.secure.WithContext(ctx).Info("Solved need record", logging.String("payload", string(solved)))
	p.metrics.IncRecord(string(OutcomeSolved), "")
	return OutcomeSolved
}

// solve looks up both decisions and returns the encoded, merged record
func (p *Pipeline) solve(ctx context.Context, rec *models.Record) ([]byte, error) {
	answer, err := p.lookup(ctx, rec.SubjectID())
	if err != nil {
		return nil, err
	}

	merged, err := rec.WithSolution(p.tag, answer)
	if err != nil {
		return nil, errors.InternalError("failed to merge answer", err)
	}

	body, err := json.Marshal(merged)
	if err != nil {
		return nil, errors.InternalError("failed to encode solved record", err)
	}
	return body, nil
}

// lookup runs both decision lookups concurrently. Each goroutine writes its
// own field, and Wait orders those writes before the return.
func (p *Pipeline) lookup(ctx context.Context, subjectID string) (models.BenefitAnswer, error) {
	var answer models.BenefitAnswer
	g, gctx := errgroup.WithContext(ctx)

	g.Go(guard(func() (err error) {
		answer.ParentalBenefit, err = p.lookups.CurrentParentalBenefit(gctx, subjectID)
		return err
	}))
	g.Go(guard(func() (err error) {
		answer.PregnancyBenefit, err = p.lookups.CurrentPregnancyBenefit(gctx, subjectID)
		return err
	}))

	if err := g.Wait(); err != nil {
		return models.BenefitAnswer{}, err
	}
	return answer, nil
}

// guard turns a panic inside fn into an error
func guard(fn func() error) func() error {
	return func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = errors.InternalError(fmt.Sprintf("panic during lookup: %v", r), nil)
			}
		}()
		return fn()
	}
}

// Handle adapts Process to a brokers.MessageHandler. Failures stay inside
// Process, so it always returns nil.
func (p *Pipeline) Handle(ctx context.Context, msg *brokers.IncomingMessage) error {
	p.Process(ctx, msg)
	return nil
}

// Running reports whether Run is consuming
func (p *Pipeline) Running() bool {
	return p.running.Load()
}

// Run consumes topic through subscriber and processes records on the worker
// pool until ctx is cancelled. Records already handed to the pool run to
// completion with their own timeouts before Run returns.
func (p *Pipeline) Run(ctx context.Context, subscriber brokers.Subscriber, topic string) error {
	jobs := make(chan *brokers.IncomingMessage, p.workers)
	workCtx := context.WithoutCancel(ctx)

	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for msg := range jobs {
				p.Process(workCtx, msg)
			}
		}()
	}

	p.logger.Info("Starting consumption",
		logging.String("topic", topic),
		logging.Int("workers", p.workers),
		logging.String("need_type", p.tag),
	)

	p.running.Store(true)
	err := subscriber.Subscribe(ctx, topic, func(_ context.Context, msg *brokers.IncomingMessage) error {
		jobs <- msg
		return nil
	})
	p.running.Store(false)

	close(jobs)
	wg.Wait()

	p.logger.Info("Consumption stopped", logging.String("topic", topic))
	return err
}
