package pipeline

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"benefit-worker/internal/brokers"
	"benefit-worker/internal/common/errors"
	"benefit-worker/internal/common/logging"
	"benefit-worker/internal/metrics"
	"benefit-worker/internal/models"
	"benefit-worker/internal/routing"
)

const topic = "privat-helse-sykepenger-behov"

// MockLookup is a mock BenefitLookup
type MockLookup struct {
	mock.Mock
}

func (m *MockLookup) CurrentParentalBenefit(ctx context.Context, subjectID string) (*models.Decision, error) {
	args := m.Called(ctx, subjectID)
	decision, _ := args.Get(0).(*models.Decision)
	return decision, args.Error(1)
}

func (m *MockLookup) CurrentPregnancyBenefit(ctx context.Context, subjectID string) (*models.Decision, error) {
	args := m.Called(ctx, subjectID)
	decision, _ := args.Get(0).(*models.Decision)
	return decision, args.Error(1)
}

type recordingPublisher struct {
	mu       sync.Mutex
	messages []*brokers.Message
	err      error
}

func (p *recordingPublisher) Publish(_ context.Context, message *brokers.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.messages = append(p.messages, message)
	return nil
}

func (p *recordingPublisher) published() []*brokers.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*brokers.Message(nil), p.messages...)
}

func parentalDecision(t *testing.T) *models.Decision {
	t.Helper()
	decidedAt, err := models.ParseDateTime("2019-10-18T00:00:00")
	require.NoError(t, err)
	return &models.Decision{
		SubjectID: "123",
		From:      models.NewDate(2019, time.June, 1),
		To:        models.NewDate(2019, time.December, 31),
		DecidedAt: decidedAt,
		Periods: []models.Period{{
			From: models.NewDate(2019, time.June, 1),
			To:   models.NewDate(2019, time.August, 31),
		}},
	}
}

func newPipeline(lookups BenefitLookup, publisher brokers.Publisher, m *metrics.Metrics) *Pipeline {
	return New(routing.NewDefaultRuleEngine(DefaultTag, time.Time{}), lookups, publisher, Options{
		Metrics:      m,
		Logger:       logging.NewNopLogger(),
		SecureLogger: logging.NewNopLogger(),
	})
}

func incoming(body string) *brokers.IncomingMessage {
	return &brokers.IncomingMessage{
		Topic: topic,
		Key:   []byte("case-1"),
		Body:  []byte(body),
	}
}

const needRecord = `{
	"id": "x",
	"need-types": ["ParentalBenefit", "Other"],
	"subject-id": "123",
	"case-id": "c1",
	"created-at": "2019-10-20T10:00:00"
}`

func decodeSolution(t *testing.T, body []byte) map[string]json.RawMessage {
	t.Helper()
	var record map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(body, &record))
	var solution map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(record[models.FieldSolution], &solution))
	return solution
}

func TestProcess_EndToEnd(t *testing.T) {
	lookups := &MockLookup{}
	lookups.On("CurrentParentalBenefit", mock.Anything, "123").Return(parentalDecision(t), nil).Once()
	lookups.On("CurrentPregnancyBenefit", mock.Anything, "123").Return(nil, nil).Once()
	publisher := &recordingPublisher{}
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	p := newPipeline(lookups, publisher, m)
	outcome := p.Process(context.Background(), incoming(needRecord))

	assert.Equal(t, OutcomeSolved, outcome)
	lookups.AssertExpectations(t)

	published := publisher.published()
	require.Len(t, published, 1)
	assert.Equal(t, topic, published[0].Topic)
	assert.Equal(t, []byte("case-1"), published[0].Key)

	solution := decodeSolution(t, published[0].Body)
	assert.NotContains(t, solution, "Other")
	assert.JSONEq(t, `{
		"ParentalBenefitDecision": {
			"subjectId": "123",
			"from": "2019-06-01",
			"to": "2019-12-31",
			"decidedAt": "2019-10-18T00:00:00",
			"periods": [{"from": "2019-06-01", "to": "2019-08-31"}]
		},
		"PregnancyBenefitDecision": null
	}`, string(solution[DefaultTag]))

	var record map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(published[0].Body, &record))
	assert.JSONEq(t, `["ParentalBenefit", "Other"]`, string(record[models.FieldNeedTypes]))
	assert.JSONEq(t, `"2019-10-20T10:00:00"`, string(record[models.FieldCreatedAt]))

	assert.Equal(t, float64(1), testutil.ToFloat64(m.Records.WithLabelValues(metrics.OutcomeSolved, "")))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.InFlight))
}

func TestProcess_KeepsOtherSolutions(t *testing.T) {
	lookups := &MockLookup{}
	lookups.On("CurrentParentalBenefit", mock.Anything, "123").Return(nil, nil)
	lookups.On("CurrentPregnancyBenefit", mock.Anything, "123").Return(nil, nil)
	publisher := &recordingPublisher{}

	p := newPipeline(lookups, publisher, nil)
	outcome := p.Process(context.Background(), incoming(`{
		"id": "x",
		"need-types": ["ParentalBenefit", "Other"],
		"subject-id": "123",
		"case-id": "c1",
		"solution": {"Other": {"answer": 42}}
	}`))

	require.Equal(t, OutcomeSolved, outcome)
	require.Len(t, publisher.published(), 1)

	solution := decodeSolution(t, publisher.published()[0].Body)
	assert.JSONEq(t, `{"answer": 42}`, string(solution["Other"]))
	assert.JSONEq(t, `{"ParentalBenefitDecision": null, "PregnancyBenefitDecision": null}`, string(solution[DefaultTag]))
}

func TestProcess_RedeliveryIsIdempotent(t *testing.T) {
	lookups := &MockLookup{}
	lookups.On("CurrentParentalBenefit", mock.Anything, "123").Return(parentalDecision(t), nil).Once()
	lookups.On("CurrentPregnancyBenefit", mock.Anything, "123").Return(nil, nil).Once()
	publisher := &recordingPublisher{}

	p := newPipeline(lookups, publisher, nil)
	require.Equal(t, OutcomeSolved, p.Process(context.Background(), incoming(needRecord)))
	require.Len(t, publisher.published(), 1)

	// The solved record comes back around on the same topic
	echo := incoming(string(publisher.published()[0].Body))
	assert.Equal(t, OutcomeRejected, p.Process(context.Background(), echo))

	lookups.AssertNumberOfCalls(t, "CurrentParentalBenefit", 1)
	lookups.AssertNumberOfCalls(t, "CurrentPregnancyBenefit", 1)
	assert.Len(t, publisher.published(), 1)
}

func TestProcess_Rejections(t *testing.T) {
	tests := []struct {
		name string
		body string
		rule string
	}{
		{name: "other need type", body: `{"id":"x","need-types":["Other"],"subject-id":"123","case-id":"c1"}`, rule: routing.RuleDemandNeedType},
		{name: "already solved", body: `{"id":"x","need-types":["ParentalBenefit"],"subject-id":"123","case-id":"c1","solution":{"ParentalBenefit":{}}}`, rule: routing.RuleRejectSolved},
		{name: "missing subject", body: `{"id":"x","need-types":["ParentalBenefit"],"case-id":"c1"}`, rule: routing.RuleRequireKeys},
		{name: "invalid json", body: `{"id":`, rule: routing.RuleParse},
		{name: "not an object", body: `[1,2,3]`, rule: routing.RuleParse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lookups := &MockLookup{}
			publisher := &recordingPublisher{}
			m := metrics.New(prometheus.NewRegistry())

			p := newPipeline(lookups, publisher, m)
			assert.Equal(t, OutcomeRejected, p.Process(context.Background(), incoming(tt.body)))

			lookups.AssertNotCalled(t, "CurrentParentalBenefit", mock.Anything, mock.Anything)
			lookups.AssertNotCalled(t, "CurrentPregnancyBenefit", mock.Anything, mock.Anything)
			assert.Empty(t, publisher.published())
			assert.Equal(t, float64(1), testutil.ToFloat64(m.Records.WithLabelValues(metrics.OutcomeRejected, tt.rule)))
		})
	}
}

func TestProcess_Failures(t *testing.T) {
	t.Run("upstream error", func(t *testing.T) {
		lookups := &MockLookup{}
		lookups.On("CurrentParentalBenefit", mock.Anything, "123").Return(nil, errors.UpstreamError(500, "boom"))
		lookups.On("CurrentPregnancyBenefit", mock.Anything, "123").Return(nil, nil)
		publisher := &recordingPublisher{}
		m := metrics.New(prometheus.NewRegistry())

		p := newPipeline(lookups, publisher, m)
		assert.Equal(t, OutcomeFailed, p.Process(context.Background(), incoming(needRecord)))
		assert.Empty(t, publisher.published())
		assert.Equal(t, float64(1), testutil.ToFloat64(m.Records.WithLabelValues(metrics.OutcomeFailed, string(errors.ErrTypeUpstream))))
	})

	t.Run("token error", func(t *testing.T) {
		lookups := &MockLookup{}
		authErr := errors.AuthError("credentials rejected", nil)
		lookups.On("CurrentParentalBenefit", mock.Anything, "123").Return(nil, authErr)
		lookups.On("CurrentPregnancyBenefit", mock.Anything, "123").Return(nil, authErr)
		publisher := &recordingPublisher{}
		m := metrics.New(prometheus.NewRegistry())

		p := newPipeline(lookups, publisher, m)
		assert.Equal(t, OutcomeFailed, p.Process(context.Background(), incoming(needRecord)))
		assert.Empty(t, publisher.published())
		assert.Equal(t, float64(1), testutil.ToFloat64(m.Records.WithLabelValues(metrics.OutcomeFailed, string(errors.ErrTypeAuth))))
	})

	t.Run("publish error", func(t *testing.T) {
		lookups := &MockLookup{}
		lookups.On("CurrentParentalBenefit", mock.Anything, "123").Return(nil, nil)
		lookups.On("CurrentPregnancyBenefit", mock.Anything, "123").Return(nil, nil)
		publisher := &recordingPublisher{err: stderrors.New("broker down")}

		p := newPipeline(lookups, publisher, nil)
		assert.Equal(t, OutcomeFailed, p.Process(context.Background(), incoming(needRecord)))
	})

	t.Run("panic in lookup", func(t *testing.T) {
		lookups := &MockLookup{}
		lookups.On("CurrentParentalBenefit", mock.Anything, "123").Panic("nil map")
		lookups.On("CurrentPregnancyBenefit", mock.Anything, "123").Return(nil, nil)
		publisher := &recordingPublisher{}

		p := newPipeline(lookups, publisher, nil)
		assert.Equal(t, OutcomeFailed, p.Process(context.Background(), incoming(needRecord)))
		assert.Empty(t, publisher.published())
	})

	t.Run("failure does not affect the next record", func(t *testing.T) {
		lookups := &MockLookup{}
		lookups.On("CurrentParentalBenefit", mock.Anything, "bad").Return(nil, errors.UpstreamError(503, ""))
		lookups.On("CurrentPregnancyBenefit", mock.Anything, "bad").Return(nil, nil)
		lookups.On("CurrentParentalBenefit", mock.Anything, "123").Return(nil, nil)
		lookups.On("CurrentPregnancyBenefit", mock.Anything, "123").Return(nil, nil)
		publisher := &recordingPublisher{}

		p := newPipeline(lookups, publisher, nil)
		assert.Equal(t, OutcomeFailed, p.Process(context.Background(),
			incoming(`{"id":"y","need-types":["ParentalBenefit"],"subject-id":"bad","case-id":"c2"}`)))
		assert.Equal(t, OutcomeSolved, p.Process(context.Background(), incoming(needRecord)))
		assert.Len(t, publisher.published(), 1)
	})
}

func TestHandle_NeverFails(t *testing.T) {
	lookups := &MockLookup{}
	lookups.On("CurrentParentalBenefit", mock.Anything, "123").Return(nil, errors.UpstreamError(500, ""))
	lookups.On("CurrentPregnancyBenefit", mock.Anything, "123").Return(nil, nil)

	p := newPipeline(lookups, &recordingPublisher{}, nil)
	assert.NoError(t, p.Handle(context.Background(), incoming(needRecord)))
	assert.NoError(t, p.Handle(context.Background(), incoming(`not json`)))
}

// fakeSubscriber delivers its messages and then waits for cancellation
type fakeSubscriber struct {
	messages []*brokers.IncomingMessage
	started  chan struct{}
}

func (s *fakeSubscriber) Subscribe(ctx context.Context, _ string, handler brokers.MessageHandler) error {
	for _, msg := range s.messages {
		if err := handler(ctx, msg); err != nil {
			return err
		}
	}
	close(s.started)
	<-ctx.Done()
	return nil
}

func TestRun_ProcessesOnWorkerPool(t *testing.T) {
	const records = 25

	lookups := &MockLookup{}
	lookups.On("CurrentParentalBenefit", mock.Anything, mock.Anything).Return(nil, nil)
	lookups.On("CurrentPregnancyBenefit", mock.Anything, mock.Anything).Return(nil, nil)
	publisher := &recordingPublisher{}
	m := metrics.New(prometheus.NewRegistry())

	subscriber := &fakeSubscriber{started: make(chan struct{})}
	for i := 0; i < records; i++ {
		body, err := json.Marshal(map[string]interface{}{
			"id":         uuid.NewString(),
			"need-types": []string{DefaultTag},
			"subject-id": "123",
			"case-id":    uuid.NewString(),
		})
		require.NoError(t, err)
		subscriber.messages = append(subscriber.messages, incoming(string(body)))
	}
	subscriber.messages = append(subscriber.messages, incoming(`{"need-types":["Other"]}`))

	p := newPipeline(lookups, publisher, m)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- p.Run(ctx, subscriber, topic) }()

	<-subscriber.started
	assert.True(t, p.Running())
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}

	assert.False(t, p.Running())
	assert.Len(t, publisher.published(), records)
	assert.Equal(t, float64(records), testutil.ToFloat64(m.Records.WithLabelValues(metrics.OutcomeSolved, "")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Records.WithLabelValues(metrics.OutcomeRejected, routing.RuleDemandNeedType)))
}
