package pipeline

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"ecowatch/internal/alerts"
	"ecowatch/internal/classifier"
	"ecowatch/internal/concern"
	"ecowatch/internal/logging"
	"ecowatch/internal/model"
)

type fakeMatcher struct {
	scores model.ConcernScoreMap
	err    error
	calls  int
}

func (f *fakeMatcher) Classify(_ context.Context, _ model.Submission) (model.ConcernScoreMap, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.scores, nil
}

type fakeStore struct {
	insertErr error
	pointsErr error

	observations []model.Observation
	points       map[string]int
	nextID       int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{points: make(map[string]int)}
}

func (f *fakeStore) Init(context.Context) error { return nil }
func (f *fakeStore) Close() error               { return nil }

func (f *fakeStore) InsertObservation(_ context.Context, obs model.Observation) (int64, error) {
	if f.insertErr != nil {
		return 0, f.insertErr
	}
	f.nextID++
	obs.ID = f.nextID
	f.observations = append(f.observations, obs)
	return f.nextID, nil
}

func (f *fakeStore) ListObservations(context.Context, int) ([]model.Observation, error) {
	return f.observations, nil
}

func (f *fakeStore) AddPoints(_ context.Context, identity string, delta int) error {
	if f.pointsErr != nil {
		return f.pointsErr
	}
	f.points[identity] += delta
	return nil
}

func (f *fakeStore) GetScore(_ context.Context, identity string) (int, error) {
	return f.points[identity], nil
}

func (f *fakeStore) SetSubscriptions(context.Context, string, []model.ConcernCategory) error {
	return nil
}

func (f *fakeStore) Subscribers(context.Context, model.ConcernCategory) ([]string, error) {
	return nil, nil
}

type fakePublisher struct {
	err    error
	events []model.AlertEvent
}

func (f *fakePublisher) Publish(_ context.Context, ev model.AlertEvent) error {
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, ev)
	return nil
}

func (f *fakePublisher) Close() error { return nil }

func validSubmission() model.Submission {
	return model.Submission{
		Value:          42,
		Type:           "Factory smoke",
		Notes:          "thick black smoke near river",
		CollectionDate: "2024-01-01",
	}
}

func smokeScores() model.ConcernScoreMap {
	return model.ConcernScoreMap{
		model.AirPollution:   0.81,
		model.WaterPollution: 0.40,
		model.CleanEnergy:    0.02,
	}
}

func newTestPipeline(m *fakeMatcher, s *fakeStore, p *fakePublisher) (*Pipeline, *alerts.Store) {
	events := alerts.NewStore(100)
	return New(m, s, p, events, nil, nil, 5), events
}

func TestHappyPath(t *testing.T) {
	matcher := &fakeMatcher{scores: smokeScores()}
	store := newFakeStore()
	pub := &fakePublisher{}
	pl, events := newTestPipeline(matcher, store, pub)

	res, err := pl.Process(context.Background(), "alice@example.com", validSubmission())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.State != StateCompleted {
		t.Fatalf("expected completed, got %s", res.State)
	}
	if res.Concern != model.AirPollution {
		t.Fatalf("expected air_pollution, got %s", res.Concern)
	}
	if res.ObservationID != 1 {
		t.Fatalf("expected observation id 1, got %d", res.ObservationID)
	}

	// Stored record.
	if len(store.observations) != 1 {
		t.Fatalf("expected 1 stored observation")
	}
	obs := store.observations[0]
	if obs.Concern != model.AirPollution || obs.Source != "alice@example.com" {
		t.Fatalf("wrong stored record: %+v", obs)
	}

	// Ledger incremented by the fixed constant.
	if store.points["alice@example.com"] != 5 {
		t.Fatalf("expected 5 points, got %d", store.points["alice@example.com"])
	}

	// Published event mirrors the stored record.
	if len(pub.events) != 1 {
		t.Fatalf("expected 1 published event")
	}
	ev := pub.events[0]
	if ev.Kind != model.AlertKindData || ev.Concern != model.AirPollution ||
		ev.Owner != "alice@example.com" || ev.Title != "Factory smoke" || ev.Value != 42 {
		t.Fatalf("wrong event: %+v", ev)
	}

	// Event visible in the recent-alerts buffer, marked published.
	recent := events.List(0)
	if len(recent) != 1 || !recent[0].Published {
		t.Fatalf("expected one published entry in buffer, got %+v", recent)
	}
}

func TestValidationShortCircuits(t *testing.T) {
	cases := []model.Submission{
		{Type: "t", Notes: "n", CollectionDate: "d"},
		{Value: 1, Notes: "n", CollectionDate: "d"},
		{Value: 1, Type: "t", CollectionDate: "d"},
		{Value: 1, Type: "t", Notes: "n"},
		{},
	}
	for i, sub := range cases {
		matcher := &fakeMatcher{scores: smokeScores()}
		store := newFakeStore()
		pub := &fakePublisher{}
		pl, _ := newTestPipeline(matcher, store, pub)

		res, err := pl.Process(context.Background(), "alice@example.com", sub)
		if !errors.Is(err, ErrValidation) {
			t.Fatalf("case %d: expected ErrValidation, got %v", i, err)
		}
		if res.State != StateFailed || res.FailedAfter != StateReceived {
			t.Fatalf("case %d: wrong failure state: %+v", i, res)
		}
		if matcher.calls != 0 || len(store.observations) != 0 || len(store.points) != 0 || len(pub.events) != 0 {
			t.Fatalf("case %d: collaborators called on invalid submission", i)
		}
	}
}

func TestClassifierFailureStopsPipeline(t *testing.T) {
	matcher := &fakeMatcher{err: classifier.ErrUnavailable}
	store := newFakeStore()
	pub := &fakePublisher{}
	pl, _ := newTestPipeline(matcher, store, pub)

	res, err := pl.Process(context.Background(), "alice@example.com", validSubmission())
	if !errors.Is(err, classifier.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if res.FailedAfter != StateValidated {
		t.Fatalf("expected failure after validated, got %s", res.FailedAfter)
	}
	if len(store.observations) != 0 || len(store.points) != 0 || len(pub.events) != 0 {
		t.Fatalf("side effects after classifier failure")
	}
}

func TestInvalidClassifierResponseStopsPipeline(t *testing.T) {
	matcher := &fakeMatcher{err: classifier.ErrInvalidResponse}
	store := newFakeStore()
	pub := &fakePublisher{}
	pl, _ := newTestPipeline(matcher, store, pub)

	_, err := pl.Process(context.Background(), "alice@example.com", validSubmission())
	if !errors.Is(err, classifier.ErrInvalidResponse) {
		t.Fatalf("expected ErrInvalidResponse, got %v", err)
	}
	if len(store.observations) != 0 || len(store.points) != 0 || len(pub.events) != 0 {
		t.Fatalf("side effects after invalid classifier response")
	}
}

func TestEmptyScoreMapNeverReachesStore(t *testing.T) {
	matcher := &fakeMatcher{scores: model.ConcernScoreMap{}}
	store := newFakeStore()
	pub := &fakePublisher{}
	pl, _ := newTestPipeline(matcher, store, pub)

	res, err := pl.Process(context.Background(), "alice@example.com", validSubmission())
	if !errors.Is(err, concern.ErrEmptyScoreMap) {
		t.Fatalf("expected ErrEmptyScoreMap, got %v", err)
	}
	if res.FailedAfter != StateClassified {
		t.Fatalf("expected failure after classified, got %s", res.FailedAfter)
	}
	if len(store.observations) != 0 {
		t.Fatalf("store reached on empty score map")
	}
}

func TestStoreFailureSkipsScoreAndPublish(t *testing.T) {
	matcher := &fakeMatcher{scores: smokeScores()}
	store := newFakeStore()
	store.insertErr = errors.New("disk full")
	pub := &fakePublisher{}
	pl, _ := newTestPipeline(matcher, store, pub)

	res, err := pl.Process(context.Background(), "alice@example.com", validSubmission())
	if !errors.Is(err, ErrStore) {
		t.Fatalf("expected ErrStore, got %v", err)
	}
	if res.FailedAfter != StateCategoryResolved {
		t.Fatalf("expected failure after category_resolved, got %s", res.FailedAfter)
	}
	if len(store.points) != 0 || len(pub.events) != 0 {
		t.Fatalf("score or publish attempted after store failure")
	}
}

func TestPublishFailureIsNotFatal(t *testing.T) {
	matcher := &fakeMatcher{scores: smokeScores()}
	store := newFakeStore()
	pub := &fakePublisher{err: errors.New("broker down")}
	pl, events := newTestPipeline(matcher, store, pub)

	res, err := pl.Process(context.Background(), "alice@example.com", validSubmission())
	if err != nil {
		t.Fatalf("publish failure must not fail the submission: %v", err)
	}
	if res.State != StateCompleted || !res.PublishFailed {
		t.Fatalf("wrong result: %+v", res)
	}
	// Record remains retrievable and scored.
	if len(store.observations) != 1 {
		t.Fatalf("record lost on publish failure")
	}
	if store.points["alice@example.com"] != 5 {
		t.Fatalf("score lost on publish failure")
	}
	// The missed event is still visible, flagged unpublished.
	recent := events.List(0)
	if len(recent) != 1 || recent[0].Published {
		t.Fatalf("expected unpublished entry in buffer, got %+v", recent)
	}
}

func TestLedgerFailureIsNotFatal(t *testing.T) {
	matcher := &fakeMatcher{scores: smokeScores()}
	store := newFakeStore()
	store.pointsErr = errors.New("row locked")
	pub := &fakePublisher{}
	pl, _ := newTestPipeline(matcher, store, pub)

	res, err := pl.Process(context.Background(), "alice@example.com", validSubmission())
	if err != nil {
		t.Fatalf("ledger failure must not fail the submission: %v", err)
	}
	if !res.ScoreFailed {
		t.Fatalf("expected ScoreFailed flag")
	}
	// Publish still happens.
	if len(pub.events) != 1 {
		t.Fatalf("publish skipped on ledger failure")
	}
}

func TestDegradedSideEffectsAreLogged(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewLoggerTo(&buf, "debug")

	matcher := &fakeMatcher{scores: smokeScores()}
	store := newFakeStore()
	store.pointsErr = errors.New("row locked")
	pub := &fakePublisher{err: errors.New("broker down")}
	pl := New(matcher, store, pub, alerts.NewStore(100), nil, logger, 5)

	res, err := pl.Process(context.Background(), "alice@example.com", validSubmission())
	if err != nil {
		t.Fatalf("degraded side effects must not fail the submission: %v", err)
	}
	if !res.ScoreFailed || !res.PublishFailed {
		t.Fatalf("expected both degraded flags set: %+v", res)
	}

	out := buf.String()
	if !strings.Contains(out, "score increment failed") {
		t.Fatalf("missing ledger warning in log output: %s", out)
	}
	if !strings.Contains(out, "alert publish failed") {
		t.Fatalf("missing publish warning in log output: %s", out)
	}
	if !strings.Contains(out, `"service":"ecowatch"`) {
		t.Fatalf("missing service attribute in log output: %s", out)
	}
}

func TestStoredConcernMatchesPublishedConcern(t *testing.T) {
	// Tied scores: resolution is deterministic, and whatever it picks must
	// land identically in the store and in the event.
	matcher := &fakeMatcher{scores: model.ConcernScoreMap{
		model.Deforestation: 0.6,
		model.Extinction:    0.6,
	}}
	store := newFakeStore()
	pub := &fakePublisher{}
	pl, _ := newTestPipeline(matcher, store, pub)

	res, err := pl.Process(context.Background(), "alice@example.com", validSubmission())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Concern != model.Deforestation {
		t.Fatalf("tie-break drifted: %s", res.Concern)
	}
	if store.observations[0].Concern != pub.events[0].Concern {
		t.Fatalf("stored concern %s != published concern %s",
			store.observations[0].Concern, pub.events[0].Concern)
	}
}
