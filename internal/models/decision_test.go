package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2019-06-01")
	require.NoError(t, err)
	assert.Equal(t, NewDate(2019, time.June, 1), d)
	assert.Equal(t, "2019-06-01", d.String())

	_, err = ParseDate("2019-06-01T00:00:00")
	assert.Error(t, err)
	_, err = ParseDate("01.06.2019")
	assert.Error(t, err)
}

func TestParseDateTime(t *testing.T) {
	tests := []struct {
		in        string
		want      time.Time
		local     bool
		formatted string
	}{
		{"2019-10-18T00:00:00", time.Date(2019, 10, 18, 0, 0, 0, 0, time.UTC), true, "2019-10-18T00:00:00"},
		{"2019-10-18T08:15:30.5", time.Date(2019, 10, 18, 8, 15, 30, 500000000, time.UTC), true, "2019-10-18T08:15:30.5"},
		{"2019-10-18T08:15:30Z", time.Date(2019, 10, 18, 8, 15, 30, 0, time.UTC), false, "2019-10-18T08:15:30Z"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			dt, err := ParseDateTime(tt.in)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(dt.Time))
			assert.Equal(t, tt.local, dt.Local)
			assert.Equal(t, tt.formatted, dt.String())
		})
	}

	_, err := ParseDateTime("2019-10-18")
	assert.Error(t, err)
}

func TestDecision_MarshalJSON(t *testing.T) {
	decidedAt, err := ParseDateTime("2019-10-18T00:00:00")
	require.NoError(t, err)

	decision := Decision{
		SubjectID: "123",
		From:      NewDate(2019, time.June, 1),
		To:        NewDate(2019, time.December, 31),
		DecidedAt: decidedAt,
	}

	data, err := json.Marshal(decision)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"subjectId": "123",
		"from": "2019-06-01",
		"to": "2019-12-31",
		"decidedAt": "2019-10-18T00:00:00",
		"periods": []
	}`, string(data))

	var decoded Decision
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, decision.From, decoded.From)
	assert.Equal(t, decision.DecidedAt.String(), decoded.DecidedAt.String())
}

func TestBenefitAnswer_KeepsBothKeys(t *testing.T) {
	data, err := json.Marshal(BenefitAnswer{
		ParentalBenefit: &Decision{SubjectID: "123", Periods: []Period{{
			From: NewDate(2019, time.June, 1),
			To:   NewDate(2019, time.June, 30),
		}}},
	})
	require.NoError(t, err)

	var decoded map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Contains(t, decoded, ParentalBenefitKey)
	require.Contains(t, decoded, PregnancyBenefitKey)
	assert.Equal(t, "null", string(decoded[PregnancyBenefitKey]))
	assert.Contains(t, string(decoded[ParentalBenefitKey]), `"periods":[{"from":"2019-06-01","to":"2019-06-30"}]`)
}
