package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ecowatch/internal/alerts"
	"ecowatch/internal/classifier"
	"ecowatch/internal/concern"
	"ecowatch/internal/metrics"
	"ecowatch/internal/model"
	"ecowatch/internal/publisher"
	"ecowatch/internal/storage"
)

// ErrStore marks a failed observation write. Nothing is scored or published
// after it; there is nothing to announce.
var ErrStore = errors.New("store failed")

// State tracks a submission through the pipeline. Transitions are strictly
// sequential; Failed absorbs from any step. Failures in Scored or Published
// do not undo Stored: the observation write is the durability boundary,
// scoring and alerting are best-effort side effects on top of it.
type State string

const (
	StateReceived         State = "received"
	StateValidated        State = "validated"
	StateClassified       State = "classified"
	StateCategoryResolved State = "category_resolved"
	StateStored           State = "stored"
	StateScored           State = "scored"
	StatePublished        State = "published"
	StateCompleted        State = "completed"
	StateFailed           State = "failed"
)

// Result is the terminal outcome of one submission.
type Result struct {
	State State
	// FailedAfter is the last state reached before Failed; zero otherwise.
	FailedAfter   State
	ObservationID int64
	Concern       model.ConcernCategory
	Points        int
	// ScoreFailed and PublishFailed flag the degraded side effects that
	// did not convert the submission into a failure.
	ScoreFailed   bool
	PublishFailed bool
}

// Pipeline sequences validate, classify, resolve, store, score and publish
// for each submission. One call per submission; calls are independent and
// may run concurrently, sharing only the store and publisher handles.
type Pipeline struct {
	matcher classifier.Matcher
	store   storage.Store
	pub     publisher.Publisher
	events  *alerts.Store
	metrics *metrics.Metrics
	logger  *slog.Logger
	points  int
}

func New(matcher classifier.Matcher, store storage.Store, pub publisher.Publisher, events *alerts.Store, m *metrics.Metrics, logger *slog.Logger, pointsPerUpload int) *Pipeline {
	if pointsPerUpload <= 0 {
		pointsPerUpload = 5
	}
	return &Pipeline{
		matcher: matcher,
		store:   store,
		pub:     pub,
		events:  events,
		metrics: m,
		logger:  logger,
		points:  pointsPerUpload,
	}
}

// Process runs one submission to a terminal state. The identity comes from
// the session provider, never from the body. On error the returned state is
// StateFailed and the error carries the originating kind.
func (p *Pipeline) Process(ctx context.Context, identity string, sub model.Submission) (Result, error) {
	st := StateReceived

	if err := Validate(sub); err != nil {
		p.count(metrics.OutcomeInvalid)
		return p.failed(st, identity, "validation failed", err)
	}
	st = StateValidated

	start := time.Now()
	scores, err := p.matcher.Classify(ctx, sub)
	p.observeClassifier(time.Since(start))
	if err != nil {
		p.count(metrics.OutcomeClassifierFailed)
		return p.failed(st, identity, "classification failed", err)
	}
	st = StateClassified

	category, err := concern.Resolve(scores)
	if err != nil {
		// An empty score map is a contract violation on the classifier's
		// side, handled the same as an invalid response.
		p.count(metrics.OutcomeResolutionFailed)
		return p.failed(st, identity, "category resolution failed", err)
	}
	st = StateCategoryResolved

	obs := model.Observation{
		Value:          sub.Value,
		Type:           sub.Type,
		Notes:          sub.Notes,
		CollectionDate: sub.CollectionDate,
		Concern:        category,
		Source:         identity,
	}
	id, err := p.store.InsertObservation(ctx, obs)
	if err != nil {
		p.count(metrics.OutcomeStoreFailed)
		return p.failed(st, identity, "observation store failed", fmt.Errorf("%w: %v", ErrStore, err))
	}
	obs.ID = id
	st = StateStored

	result := Result{
		ObservationID: id,
		Concern:       category,
		Points:        p.points,
	}

	if err := p.store.AddPoints(ctx, identity, p.points); err != nil {
		result.ScoreFailed = true
		if p.metrics != nil {
			p.metrics.LedgerFailures.Inc()
		}
		if p.logger != nil {
			p.logger.Warn("score increment failed, observation kept", "source", identity, "err", err)
		}
	} else {
		st = StateScored
		if p.metrics != nil {
			p.metrics.PointsAwarded.Add(float64(p.points))
		}
	}

	ev := model.NewAlertEvent(obs)
	published := true
	if err := p.pub.Publish(ctx, ev); err != nil {
		result.PublishFailed = true
		published = false
		if p.metrics != nil {
			p.metrics.PublishFailures.Inc()
		}
		if p.logger != nil {
			p.logger.Warn("alert publish failed, observation kept", "source", identity, "concern", category, "err", err)
		}
	} else {
		st = StatePublished
	}
	if p.events != nil {
		p.events.Add(alerts.Entry{Event: ev, PublishedAt: time.Now().UTC(), Published: published})
	}

	result.State = StateCompleted
	p.count(metrics.OutcomeCompleted)
	if p.logger != nil {
		p.logger.Info("observation accepted",
			"id", id,
			"source", identity,
			"concern", category,
			"last_step", st,
			"points", result.Points,
			"score_failed", result.ScoreFailed,
			"publish_failed", result.PublishFailed,
		)
	}
	return result, nil
}

func (p *Pipeline) failed(after State, identity, msg string, err error) (Result, error) {
	if p.logger != nil {
		p.logger.Error(msg, "source", identity, "state", after, "err", err)
	}
	return Result{State: StateFailed, FailedAfter: after}, err
}

func (p *Pipeline) count(outcome string) {
	if p.metrics != nil {
		p.metrics.Submissions.WithLabelValues(outcome).Inc()
	}
}

func (p *Pipeline) observeClassifier(d time.Duration) {
	if p.metrics != nil {
		p.metrics.ClassifierSeconds.Observe(d.Seconds())
	}
}
