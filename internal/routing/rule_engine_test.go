package routing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"benefit-worker/internal/models"
)

const tag = "ParentalBenefit"

func TestRuleEngine_Evaluate(t *testing.T) {
	engine := NewDefaultRuleEngine(tag, time.Time{})

	tests := []struct {
		name     string
		payload  string
		accepted bool
		rule     string
		reason   error
	}{
		{
			name:     "accepted",
			payload:  `{"id":"x","need-types":["ParentalBenefit","Other"],"subject-id":"123","case-id":"c"}`,
			accepted: true,
		},
		{
			name:     "other worker's solution does not matter",
			payload:  `{"id":"x","need-types":["ParentalBenefit"],"subject-id":"123","case-id":"c","solution":{"Other":{}}}`,
			accepted: true,
		},
		{
			name:    "need type not requested",
			payload: `{"id":"x","need-types":["Other"],"subject-id":"123","case-id":"c"}`,
			rule:    RuleDemandNeedType,
			reason:  ErrNeedNotRequested,
		},
		{
			name:    "need types missing",
			payload: `{"id":"x","subject-id":"123","case-id":"c"}`,
			rule:    RuleDemandNeedType,
			reason:  ErrNeedNotRequested,
		},
		{
			name:    "need types malformed",
			payload: `{"id":"x","need-types":"ParentalBenefit","subject-id":"123","case-id":"c"}`,
			rule:    RuleDemandNeedType,
			reason:  ErrMalformedRecord,
		},
		{
			name:    "already solved",
			payload: `{"id":"x","need-types":["ParentalBenefit"],"subject-id":"123","case-id":"c","solution":{"ParentalBenefit":{}}}`,
			rule:    RuleRejectSolved,
			reason:  ErrAlreadySolved,
		},
		{
			name:    "already solved with null answer",
			payload: `{"id":"x","need-types":["ParentalBenefit"],"subject-id":"123","case-id":"c","solution":{"ParentalBenefit":null}}`,
			rule:    RuleRejectSolved,
			reason:  ErrAlreadySolved,
		},
		{
			name:    "missing subject",
			payload: `{"id":"x","need-types":["ParentalBenefit"],"case-id":"c"}`,
			rule:    RuleRequireKeys,
			reason:  ErrMissingField,
		},
		{
			name:    "null id",
			payload: `{"id":null,"need-types":["ParentalBenefit"],"subject-id":"123","case-id":"c"}`,
			rule:    RuleRequireKeys,
			reason:  ErrMissingField,
		},
		{
			name:    "missing case id",
			payload: `{"id":"x","need-types":["ParentalBenefit"],"subject-id":"123"}`,
			rule:    RuleRequireKeys,
			reason:  ErrMissingField,
		},
		{
			name:    "first failing rule wins",
			payload: `{"need-types":["Other"],"solution":{"ParentalBenefit":{}}}`,
			rule:    RuleDemandNeedType,
			reason:  ErrNeedNotRequested,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, verdict := engine.EvaluateMessage([]byte(tt.payload))
			require.NotNil(t, rec)
			assert.Equal(t, tt.accepted, verdict.Accepted)
			assert.Equal(t, tt.rule, verdict.Rule)
			if tt.reason != nil {
				assert.ErrorIs(t, verdict.Reason, tt.reason)
			} else {
				assert.NoError(t, verdict.Reason)
			}
		})
	}
}

func TestRuleEngine_InvalidJSON(t *testing.T) {
	engine := NewDefaultRuleEngine(tag, time.Time{})

	for _, payload := range []string{`THIS IS INVALID JSON`, `[1,2]`, ``} {
		rec, verdict := engine.EvaluateMessage([]byte(payload))
		assert.Nil(t, rec)
		assert.False(t, verdict.Accepted)
		assert.Equal(t, RuleParse, verdict.Rule)
		assert.ErrorIs(t, verdict.Reason, ErrMalformedRecord)
	}
}

func TestRuleEngine_CreatedCutover(t *testing.T) {
	cutover := time.Date(2019, 11, 1, 0, 0, 0, 0, time.UTC)
	engine := NewDefaultRuleEngine(tag, cutover)
	base := `{"id":"x","need-types":["ParentalBenefit"],"subject-id":"123","case-id":"c"`

	tests := []struct {
		name     string
		payload  string
		accepted bool
		reason   error
	}{
		{name: "after cutover", payload: base + `,"created-at":"2019-11-02T10:00:00"}`, accepted: true},
		{name: "exactly at cutover", payload: base + `,"created-at":"2019-11-01T00:00:00"}`, accepted: true},
		{name: "no created-at", payload: base + `}`, accepted: true},
		{name: "before cutover", payload: base + `,"created-at":"2019-10-31T23:59:59"}`, reason: ErrCreatedBeforeCutover},
		{name: "before cutover with offset", payload: base + `,"created-at":"2019-11-01T00:30:00+01:00"}`, reason: ErrCreatedBeforeCutover},
		{name: "unreadable", payload: base + `,"created-at":"yesterday"}`, reason: ErrMalformedRecord},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, verdict := engine.EvaluateMessage([]byte(tt.payload))
			assert.Equal(t, tt.accepted, verdict.Accepted)
			if !tt.accepted {
				assert.Equal(t, RuleCreatedCutover, verdict.Rule)
				assert.ErrorIs(t, verdict.Reason, tt.reason)
			}
		})
	}
}

func TestDefaultRules_Order(t *testing.T) {
	assert.Equal(t,
		[]string{RuleDemandNeedType, RuleRejectSolved, RuleRequireKeys},
		NewDefaultRuleEngine(tag, time.Time{}).Rules())

	assert.Equal(t,
		[]string{RuleDemandNeedType, RuleRejectSolved, RuleRequireKeys, RuleCreatedCutover},
		NewDefaultRuleEngine(tag, time.Now()).Rules())
}

func TestRuleEngine_CustomRules(t *testing.T) {
	calls := 0
	counting := Rule{Name: "count", Check: func(*models.Record) error { calls++; return nil }}
	engine := NewRuleEngine(RequireKeys("id"), counting)

	rec, err := models.ParseRecord([]byte(`{}`))
	require.NoError(t, err)

	verdict := engine.Evaluate(rec)
	assert.False(t, verdict.Accepted)
	assert.Equal(t, 0, calls)

	rec, err = models.ParseRecord([]byte(`{"id":"x"}`))
	require.NoError(t, err)
	assert.Equal(t, Accept, engine.Evaluate(rec))
	assert.Equal(t, 1, calls)
}
