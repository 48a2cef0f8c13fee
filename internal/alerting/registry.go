package alerting

import (
	"iter"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/agnivade/levenshtein"
	"github.com/tidwall/btree"
	"go.uber.org/zap"
)

// suggestionDistance is the maximum edit distance at which a rule
// name miss is treated as a probable typo.
const suggestionDistance = 3

// ruleEntry pairs a rule with the mutex that serializes evaluations
// and trigger-stat updates for it. The registry map itself is guarded
// separately so lookups never contend with evaluations of other rules.
type ruleEntry struct {
	mu   sync.Mutex
	rule *AlertRule
}

// RuleRegistry owns all registered alert rules, keyed by name.
type RuleRegistry struct {
	mu     sync.RWMutex
	rules  *btree.Map[string, *ruleEntry]
	logger *zap.Logger
}

func NewRuleRegistry(logger *zap.Logger) *RuleRegistry {
	return &RuleRegistry{
		rules:  btree.NewMap[string, *ruleEntry](32),
		logger: logger,
	}
}

// Register adds a new rule. Registering a name that already exists
// fails with DuplicateRuleError; use Upsert to replace.
func (r *RuleRegistry) Register(rule AlertRule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	rule.LastTriggered = time.Time{}
	rule.TriggerCount = 0

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rules.Get(rule.Name); ok {
		return &DuplicateRuleError{Name: rule.Name}
	}
	r.rules.Set(rule.Name, &ruleEntry{rule: &rule})
	r.logger.Info("alert rule registered",
		zap.String("rule", rule.Name),
		zap.String("metric", rule.Metric),
		zap.String("severity", string(rule.Severity)))
	return nil
}

// Upsert registers the rule, replacing any existing definition under
// the same name. Trigger stats survive the replacement.
func (r *RuleRegistry) Upsert(rule AlertRule) error {
	if err := rule.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.rules.Get(rule.Name); ok {
		entry.mu.Lock()
		rule.LastTriggered = entry.rule.LastTriggered
		rule.TriggerCount = entry.rule.TriggerCount
		entry.rule = &rule
		entry.mu.Unlock()
		r.logger.Warn("alert rule replaced", zap.String("rule", rule.Name))
		return nil
	}
	r.rules.Set(rule.Name, &ruleEntry{rule: &rule})
	r.logger.Info("alert rule registered",
		zap.String("rule", rule.Name),
		zap.String("metric", rule.Metric),
		zap.String("severity", string(rule.Severity)))
	return nil
}

// entry returns the live entry for evaluation paths. Callers lock
// entry.mu before touching the rule.
func (r *RuleRegistry) entry(name string) (*ruleEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rules.Get(name)
}

// Get returns a snapshot of the named rule, or NotFoundError with a
// closest-name suggestion.
func (r *RuleRegistry) Get(name string) (AlertRule, error) {
	entry, ok := r.entry(name)
	if !ok {
		return AlertRule{}, r.notFound(name)
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return snapshotRule(entry.rule), nil
}

// List returns a name-ordered walk over the rules. The sequence is
// backed by a copy-on-write clone of the tree taken at call time, so
// it can be ranged over repeatedly with stable membership and order
// while registrations proceed, and yields rule snapshots on demand.
func (r *RuleRegistry) List() iter.Seq[AlertRule] {
	r.mu.RLock()
	snap := r.rules.Copy()
	r.mu.RUnlock()

	return func(yield func(AlertRule) bool) {
		snap.Scan(func(_ string, entry *ruleEntry) bool {
			entry.mu.Lock()
			rule := snapshotRule(entry.rule)
			entry.mu.Unlock()
			return yield(rule)
		})
	}
}

// Len reports the number of registered rules.
func (r *RuleRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rules.Len()
}

func (r *RuleRegistry) notFound(name string) error {
	best := ""
	bestDist := math.MaxInt

	r.mu.RLock()
	r.rules.Scan(func(candidate string, _ *ruleEntry) bool {
		if d := levenshtein.ComputeDistance(name, candidate); d < bestDist {
			best, bestDist = candidate, d
		}
		return true
	})
	r.mu.RUnlock()

	err := &NotFoundError{Kind: "rule", Name: name}
	if best != "" && bestDist <= suggestionDistance {
		err.Suggestion = best
	}
	return err
}

func snapshotRule(rule *AlertRule) AlertRule {
	cp := *rule
	cp.Channels = slices.Clone(rule.Channels)
	return cp
}
