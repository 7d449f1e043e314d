package routing

import (
	"fmt"
	"time"

	"github.com/samber/lo"
	"benefit-worker/internal/models"
)

// Rule names, in evaluation order
const (
	RuleParse          = "parse"
	RuleDemandNeedType = "demand-need-type"
	RuleRejectSolved   = "reject-solved"
	RuleRequireKeys    = "require-keys"
	RuleCreatedCutover = "created-after-cutover"
)

// RequiredFields must be present and non-null on every accepted record
var RequiredFields = []string{models.FieldID, models.FieldSubjectID, models.FieldCaseID}

// Rule is a named predicate over a need record. Check returns nil to accept
// or an error describing why the record is rejected.
type Rule struct {
	Name  string
	Check func(rec *models.Record) error
}

// Verdict is the outcome of evaluating a record
type Verdict struct {
	Accepted bool
	Rule     string
	Reason   error
}

// Accept is the verdict for a record that passed every rule
var Accept = Verdict{Accepted: true}

func reject(rule string, reason error) Verdict {
	return Verdict{Rule: rule, Reason: reason}
}

// RuleEngine evaluates rules in order and stops at the first rejection
type RuleEngine struct {
	rules []Rule
}

// NewRuleEngine creates an engine over rules
func NewRuleEngine(rules ...Rule) *RuleEngine {
	return &RuleEngine{rules: rules}
}

// NewDefaultRuleEngine creates the engine for a worker answering tag.
// A zero cutover disables the creation date rule.
func NewDefaultRuleEngine(tag string, cutover time.Time) *RuleEngine {
	return NewRuleEngine(DefaultRules(tag, cutover)...)
}

// DefaultRules returns the acceptance rules of a worker answering tag
func DefaultRules(tag string, cutover time.Time) []Rule {
	rules := []Rule{
		DemandNeedType(tag),
		RejectSolved(tag),
		RequireKeys(RequiredFields...),
	}
	if !cutover.IsZero() {
		rules = append(rules, CreatedAfter(cutover))
	}
	return rules
}

// Rules returns the rule names in evaluation order
func (re *RuleEngine) Rules() []string {
	return lo.Map(re.rules, func(r Rule, _ int) string { return r.Name })
}

// Evaluate runs the rules against rec
func (re *RuleEngine) Evaluate(rec *models.Record) Verdict {
	for _, rule := range re.rules {
		if err := rule.Check(rec); err != nil {
			return reject(rule.Name, err)
		}
	}
	return Accept
}

// EvaluateMessage parses a stream payload and evaluates it. Payloads that
// are not JSON objects are rejected by the parse rule.
func (re *RuleEngine) EvaluateMessage(data []byte) (*models.Record, Verdict) {
	rec, err := models.ParseRecord(data)
	if err != nil {
		return nil, reject(RuleParse, fmt.Errorf("%w: %v", ErrMalformedRecord, err))
	}
	return rec, re.Evaluate(rec)
}

// DemandNeedType accepts records whose need-types contain tag
func DemandNeedType(tag string) Rule {
	return Rule{
		Name: RuleDemandNeedType,
		Check: func(rec *models.Record) error {
			types, err := rec.NeedTypes()
			if err != nil {
				return fmt.Errorf("%w: %v", ErrMalformedRecord, err)
			}
			if !lo.Contains(types, tag) {
				return fmt.Errorf("%w: %s", ErrNeedNotRequested, tag)
			}
			return nil
		},
	}
}

// RejectSolved rejects records that already carry an answer for tag
func RejectSolved(tag string) Rule {
	return Rule{
		Name: RuleRejectSolved,
		Check: func(rec *models.Record) error {
			solved, err := rec.HasSolution(tag)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrMalformedRecord, err)
			}
			if solved {
				return fmt.Errorf("%w: %s", ErrAlreadySolved, tag)
			}
			return nil
		},
	}
}

// RequireKeys rejects records where any of fields is absent or null
func RequireKeys(fields ...string) Rule {
	return Rule{
		Name: RuleRequireKeys,
		Check: func(rec *models.Record) error {
			missing := lo.Filter(fields, func(f string, _ int) bool { return !rec.Has(f) })
			if len(missing) > 0 {
				return fmt.Errorf("%w: %v", ErrMissingField, missing)
			}
			return nil
		},
	}
}

// CreatedAfter rejects records created strictly before cutover. Records
// without created-at pass; an unreadable created-at is rejected.
func CreatedAfter(cutover time.Time) Rule {
	return Rule{
		Name: RuleCreatedCutover,
		Check: func(rec *models.Record) error {
			created, ok, err := rec.CreatedAt()
			if err != nil {
				return fmt.Errorf("%w: %v", ErrMalformedRecord, err)
			}
			if ok && created.Before(cutover) {
				return fmt.Errorf("%w: %s < %s", ErrCreatedBeforeCutover,
					created.Format(time.RFC3339), cutover.Format(time.RFC3339))
			}
			return nil
		},
	}
}
