// Package routing decides which need records this worker answers.
//
// # Overview
//
// Every record read from the stream passes through a RuleEngine before any
// upstream call is made. The engine runs an ordered list of named rules and
// stops at the first one that rejects:
//
//   - parse: the payload must be a JSON object
//   - demand-need-type: need-types must contain the worker's tag
//   - reject-solved: solution must not already hold the worker's tag
//   - require-keys: id, subject-id and case-id must be present and non-null
//   - created-after-cutover: only when a cutover is configured
//
// A rejection is a routing decision, not an error. The Verdict names the rule
// so callers can count rejections per rule, and its Reason wraps one of the
// sentinel errors in errors.go.
//
// # Usage
//
//	engine := routing.NewDefaultRuleEngine("ParentalBenefit", time.Time{})
//	rec, verdict := engine.EvaluateMessage(payload)
//	if !verdict.Accepted {
//		return
//	}
//
// Engines hold no mutable state and are safe for concurrent use.
package routing
