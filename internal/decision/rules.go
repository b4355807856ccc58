package decision

import (
	"context"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"kycflow/internal/decision/metrics"
	dErrors "kycflow/pkg/domain-errors"
	strs "kycflow/pkg/platform/strings"
)

// RuleSet maps vendor signals to outcomes. Fail signals win over review
// signals; anything else passes.
type RuleSet struct {
	Fail   []string `yaml:"fail"`
	Review []string `yaml:"review"`
	// ReviewOnToleratedErrors sends cases with tolerated vendor failures to review.
	ReviewOnToleratedErrors bool `yaml:"review_on_tolerated_errors"`
}

// RuleEngine is the default Evaluator, driven by named rule sets.
type RuleEngine struct {
	sets    map[string]RuleSet
	metrics *metrics.Metrics
}

type Option func(*RuleEngine)

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *RuleEngine) { e.metrics = m }
}

func NewRuleEngine(sets map[string]RuleSet, opts ...Option) *RuleEngine {
	e := &RuleEngine{sets: sets}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *RuleEngine) Evaluate(_ context.Context, in Input) (Result, error) {
	start := time.Now()
	set, ok := e.sets[in.RuleSet]
	if !ok {
		return Result{}, dErrors.Newf(dErrors.CodeInvalidInput, "unknown rule set %q", in.RuleSet)
	}

	var signals []string
	for _, r := range in.Successful {
		if r.Response != nil {
			signals = append(signals, r.Response.Signals...)
		}
	}
	res := EvaluateSignals(set, signals, len(in.NonCritical))

	e.metrics.IncrementOutcome(string(res.Status), in.CaseKind)
	e.metrics.ObserveEvaluateLatency(time.Since(start))
	return res, nil
}

// EvaluateSignals applies a rule set to vendor signals.
// This is pure domain logic - no I/O, no side effects.
// Rule priority (fail-fast):
//  1. any fail signal fails the case
//  2. review signals or tolerated errors (when configured) send it to review
//  3. otherwise it passes
func EvaluateSignals(set RuleSet, signals []string, toleratedErrors int) Result {
	if reasons := matching(set.Fail, signals); len(reasons) > 0 {
		return Result{Status: StatusFail, ReasonCodes: reasons}
	}

	reasons := matching(set.Review, signals)
	if set.ReviewOnToleratedErrors && toleratedErrors > 0 {
		reasons = append(reasons, ReasonVendorErrorsTolerated)
	}
	if len(reasons) > 0 {
		return Result{Status: StatusReview, ReasonCodes: reasons}
	}
	return Result{Status: StatusPass}
}

// matching returns signals present in rules, deduplicated, in signal order.
func matching(rules, signals []string) []ReasonCode {
	if len(rules) == 0 {
		return nil
	}
	want := make(map[string]bool, len(rules))
	for _, r := range rules {
		want[r] = true
	}
	seen := make(map[string]bool)
	var out []ReasonCode
	for _, s := range signals {
		if want[s] && !seen[s] {
			seen[s] = true
			out = append(out, ReasonCode(s))
		}
	}
	return out
}

type ruleFile struct {
	RuleSets map[string]RuleSet `yaml:"rule_sets"`
}

// ParseRuleSets decodes the rule_sets section of the policy document.
func ParseRuleSets(data []byte) (map[string]RuleSet, error) {
	var f ruleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode rule sets: %w", err)
	}
	if f.RuleSets == nil {
		f.RuleSets = make(map[string]RuleSet)
	}
	// signals are matched exactly, so normalize the configured names once
	for name, set := range f.RuleSets {
		set.Fail = strs.NormalizeCodes(set.Fail)
		set.Review = strs.NormalizeCodes(set.Review)
		f.RuleSets[name] = set
	}
	return f.RuleSets, nil
}

// LoadRuleSets reads rule sets from the policy file at path.
func LoadRuleSets(path string) (map[string]RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rule sets: %w", err)
	}
	return ParseRuleSets(data)
}
