package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	dateLayout          = "2006-01-02"
	localDateTimeLayout = "2006-01-02T15:04:05.999999999"
)

// Date is a calendar date without a time component
type Date struct {
	time.Time
}

// ParseDate parses an ISO calendar date (2006-01-02)
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return Date{Time: t}, nil
}

// NewDate builds a Date
func NewDate(year int, month time.Month, day int) Date {
	return Date{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// String formats the date as 2006-01-02
func (d Date) String() string {
	return d.Format(dateLayout)
}

// MarshalJSON implements json.Marshaler
func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON implements json.Unmarshaler
func (d *Date) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// DateTime is an ISO-8601 date-time. Values without a zone offset are read
// as UTC and written back without an offset.
type DateTime struct {
	time.Time
	Local bool
}

// ParseDateTime accepts RFC 3339 timestamps and zone-less local date-times
// such as 2019-10-18T00:00:00.
func ParseDateTime(s string) (DateTime, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return DateTime{Time: t}, nil
	}
	t, err := time.Parse(localDateTimeLayout, s)
	if err != nil {
		return DateTime{}, fmt.Errorf("invalid date-time %q: %w", s, err)
	}
	return DateTime{Time: t, Local: true}, nil
}

// String formats the value the way it was read
func (dt DateTime) String() string {
	if dt.Local {
		return dt.Format(localDateTimeLayout)
	}
	return dt.Format(time.RFC3339Nano)
}

// MarshalJSON implements json.Marshaler
func (dt DateTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(dt.String())
}

// UnmarshalJSON implements json.Unmarshaler
func (dt *DateTime) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseDateTime(s)
	if err != nil {
		return err
	}
	*dt = parsed
	return nil
}

// Period is an inclusive range of calendar dates
type Period struct {
	From Date `json:"from"`
	To   Date `json:"to"`
}

// Decision is one benefit decision granted by the upstream provider.
// Periods lists when payment actually ran within the decision's span.
type Decision struct {
	SubjectID string   `json:"subjectId"`
	From      Date     `json:"from"`
	To        Date     `json:"to"`
	DecidedAt DateTime `json:"decidedAt"`
	Periods   []Period `json:"periods"`
	// Type is only set for decisions read from the history feed
	Type string `json:"type,omitempty"`
}

// MarshalJSON writes an empty list rather than null for missing periods
func (d Decision) MarshalJSON() ([]byte, error) {
	type plain Decision
	if d.Periods == nil {
		d.Periods = []Period{}
	}
	return json.Marshal(plain(d))
}

// Answer keys written under solution[ParentalBenefit]
const (
	ParentalBenefitKey  = "ParentalBenefitDecision"
	PregnancyBenefitKey = "PregnancyBenefitDecision"
)

// BenefitAnswer is the answer this worker writes. Both keys are always
// serialized; a kind without a current decision is null.
type BenefitAnswer struct {
	ParentalBenefit  *Decision `json:"ParentalBenefitDecision"`
	PregnancyBenefit *Decision `json:"PregnancyBenefitDecision"`
}
