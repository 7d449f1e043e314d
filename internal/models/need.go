package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Envelope field names of a need record
const (
	FieldID        = "id"
	FieldNeedTypes = "need-types"
	FieldSubjectID = "subject-id"
	FieldCaseID    = "case-id"
	FieldSolution  = "solution"
	FieldCreatedAt = "created-at"
)

var jsonNull = []byte("null")

// Record is one need record as it travels on the stream. Fields are kept as
// raw JSON so everything this worker does not interpret is republished
// untouched.
type Record struct {
	fields map[string]json.RawMessage
}

// ParseRecord decodes a stream payload. The payload must be a JSON object.
func ParseRecord(data []byte) (*Record, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("need record is not a JSON object: %w", err)
	}
	if fields == nil {
		return nil, fmt.Errorf("need record is null")
	}
	return &Record{fields: fields}, nil
}

// Raw returns the raw JSON of a field, or nil if it is absent
func (r *Record) Raw(field string) json.RawMessage {
	return r.fields[field]
}

// Has reports whether field is present and not JSON null
func (r *Record) Has(field string) bool {
	raw, ok := r.fields[field]
	return ok && !bytes.Equal(bytes.TrimSpace(raw), jsonNull)
}

// String returns a scalar field as text. Strings are unquoted, other JSON
// values are returned verbatim and absent or null fields yield "".
func (r *Record) String(field string) string {
	if !r.Has(field) {
		return ""
	}
	raw := r.fields[field]
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(bytes.TrimSpace(raw))
}

// ID returns the need id
func (r *Record) ID() string { return r.String(FieldID) }

// SubjectID returns the id of the person the need concerns
func (r *Record) SubjectID() string { return r.String(FieldSubjectID) }

// CaseID returns the correlation id
func (r *Record) CaseID() string { return r.String(FieldCaseID) }

// NeedTypes returns the requested need-type tags. An absent or null field
// yields an empty list.
func (r *Record) NeedTypes() ([]string, error) {
	if !r.Has(FieldNeedTypes) {
		return nil, nil
	}
	var types []string
	if err := json.Unmarshal(r.fields[FieldNeedTypes], &types); err != nil {
		return nil, fmt.Errorf("%s is not a list of strings: %w", FieldNeedTypes, err)
	}
	return types, nil
}

// Solution returns the answers collected so far, keyed by need-type tag
func (r *Record) Solution() (map[string]json.RawMessage, error) {
	if !r.Has(FieldSolution) {
		return map[string]json.RawMessage{}, nil
	}
	var solution map[string]json.RawMessage
	if err := json.Unmarshal(r.fields[FieldSolution], &solution); err != nil {
		return nil, fmt.Errorf("%s is not an object: %w", FieldSolution, err)
	}
	if solution == nil {
		solution = map[string]json.RawMessage{}
	}
	return solution, nil
}

// HasSolution reports whether the record already carries an answer for tag
func (r *Record) HasSolution(tag string) (bool, error) {
	solution, err := r.Solution()
	if err != nil {
		return false, err
	}
	_, ok := solution[tag]
	return ok, nil
}

// CreatedAt returns the creation timestamp. ok is false when the field is
// absent.
func (r *Record) CreatedAt() (t time.Time, ok bool, err error) {
	if !r.Has(FieldCreatedAt) {
		return time.Time{}, false, nil
	}
	var s string
	if err := json.Unmarshal(r.fields[FieldCreatedAt], &s); err != nil {
		return time.Time{}, true, fmt.Errorf("%s is not a string: %w", FieldCreatedAt, err)
	}
	dt, err := ParseDateTime(s)
	if err != nil {
		return time.Time{}, true, err
	}
	return dt.Time, true, nil
}

// WithSolution returns a copy of the record with solution[tag] set to answer.
// Every other solution key and every other envelope field is carried over
// unchanged; the receiver is not modified.
func (r *Record) WithSolution(tag string, answer interface{}) (*Record, error) {
	solution, err := r.Solution()
	if err != nil {
		return nil, err
	}

	encoded, err := json.Marshal(answer)
	if err != nil {
		return nil, fmt.Errorf("failed to encode answer for %s: %w", tag, err)
	}

	merged := make(map[string]json.RawMessage, len(solution)+1)
	for k, v := range solution {
		merged[k] = v
	}
	merged[tag] = encoded

	encodedSolution, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", FieldSolution, err)
	}

	fields := make(map[string]json.RawMessage, len(r.fields)+1)
	for k, v := range r.fields {
		fields[k] = v
	}
	fields[FieldSolution] = encodedSolution

	return &Record{fields: fields}, nil
}

// MarshalJSON encodes the record back into a stream payload
func (r *Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.fields)
}
