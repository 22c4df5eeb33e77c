package rules

import (
	"sync"

	"github.com/Sunil0809/nautier-tradetron/internal/event"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Engine holds registered rules and evaluates them against indicator
// snapshots. Evaluation is pure except for the crossing memory: CROSS_ABOVE
// and CROSS_BELOW compare the sign of (left - right) against the previous
// evaluation of that exact rule+condition pair, so they fire only on an
// actual crossing, never on every tick the price stays beyond the threshold.
type Engine struct {
	mu    sync.RWMutex
	rules map[string]*Rule

	crossMu sync.Mutex
	cross   map[crossKey]decimal.Decimal // previous (left - right) delta
}

type crossKey struct {
	ruleID string
	cond   int
}

// NewEngine creates an empty rule engine.
func NewEngine() *Engine {
	return &Engine{
		rules: make(map[string]*Rule),
		cross: make(map[crossKey]decimal.Decimal),
	}
}

// Register parses src and installs the rule under id, replacing any
// previous rule atomically and resetting its crossing memory. A failed
// parse keeps the previous rule and returns the ParseError.
func (e *Engine) Register(id string, src []byte) error {
	r, err := Parse(src)
	if err != nil {
		log.Warn().Err(err).Str("rule_id", id).Msg("rules: registration rejected, previous rule kept")
		return err
	}

	e.mu.Lock()
	_, replaced := e.rules[id]
	e.rules[id] = r
	e.mu.Unlock()

	e.crossMu.Lock()
	for k := range e.cross {
		if k.ruleID == id {
			delete(e.cross, k)
		}
	}
	e.crossMu.Unlock()

	log.Info().
		Str("rule_id", id).
		Str("name", r.Name).
		Str("combinator", string(r.Combinator)).
		Str("action", string(r.Action)).
		Int("conditions", len(r.Conditions)).
		Bool("replaced", replaced).
		Msg("rules: rule registered")
	return nil
}

// Unregister removes a rule and its crossing memory.
func (e *Engine) Unregister(id string) {
	e.mu.Lock()
	delete(e.rules, id)
	e.mu.Unlock()

	e.crossMu.Lock()
	for k := range e.cross {
		if k.ruleID == id {
			delete(e.cross, k)
		}
	}
	e.crossMu.Unlock()
}

// Rule returns the registered rule for id, if any.
func (e *Engine) Rule(id string) (*Rule, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.rules[id]
	return r, ok
}

// Evaluate runs the rule registered under id against the snapshot and
// returns its action, or NONE when the rule does not trigger. A condition
// referencing a key missing from the snapshot fails closed and is logged
// as a data-quality signal.
func (e *Engine) Evaluate(id string, snapshot map[string]float64) event.Action {
	e.mu.RLock()
	r, ok := e.rules[id]
	e.mu.RUnlock()
	if !ok {
		return event.ActionNone
	}

	matched := 0
	for i, c := range r.Conditions {
		if e.evalCondition(id, i, c, snapshot) {
			matched++
		}
	}

	switch r.Combinator {
	case CombinatorAnd:
		if matched == len(r.Conditions) {
			return r.Action
		}
	case CombinatorOr:
		if matched > 0 {
			return r.Action
		}
	}
	return event.ActionNone
}

// EvaluateAll evaluates every registered rule independently; one rule's
// missing data does not affect another's evaluation.
func (e *Engine) EvaluateAll(snapshot map[string]float64) map[string]event.Action {
	e.mu.RLock()
	ids := make([]string, 0, len(e.rules))
	for id := range e.rules {
		ids = append(ids, id)
	}
	e.mu.RUnlock()

	out := make(map[string]event.Action, len(ids))
	for _, id := range ids {
		out[id] = e.Evaluate(id, snapshot)
	}
	return out
}

// RuleIDs returns the ids of all registered rules.
func (e *Engine) RuleIDs() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ids := make([]string, 0, len(e.rules))
	for id := range e.rules {
		ids = append(ids, id)
	}
	return ids
}

// evalCondition evaluates one condition. Crossing operators update their
// prior-tick memory only when both operands resolve, so a data gap can
// never fabricate a crossing.
func (e *Engine) evalCondition(id string, idx int, c Condition, snapshot map[string]float64) bool {
	left, ok := resolve(c.Left, snapshot)
	if !ok {
		log.Warn().
			Str("rule_id", id).
			Int("condition", idx).
			Str("indicator", c.Left.Key).
			Msg("rules: indicator missing from snapshot, condition fails closed")
		return false
	}
	right, ok := resolve(c.Right, snapshot)
	if !ok {
		log.Warn().
			Str("rule_id", id).
			Int("condition", idx).
			Str("indicator", c.Right.Key).
			Msg("rules: indicator missing from snapshot, condition fails closed")
		return false
	}

	switch c.Op {
	case OpEq:
		return left.Equal(right)
	case OpNeq:
		return !left.Equal(right)
	case OpLt:
		return left.LessThan(right)
	case OpLte:
		return left.LessThanOrEqual(right)
	case OpGt:
		return left.GreaterThan(right)
	case OpGte:
		return left.GreaterThanOrEqual(right)
	case OpCrossAbove, OpCrossBelow:
		delta := left.Sub(right)
		key := crossKey{ruleID: id, cond: idx}

		e.crossMu.Lock()
		prev, seen := e.cross[key]
		e.cross[key] = delta
		e.crossMu.Unlock()

		// First observation records state and never fires.
		if !seen {
			return false
		}
		if c.Op == OpCrossAbove {
			return prev.LessThanOrEqual(decimal.Zero) && delta.GreaterThan(decimal.Zero)
		}
		return prev.GreaterThanOrEqual(decimal.Zero) && delta.LessThan(decimal.Zero)
	}
	return false
}

// resolve turns an operand into a value against the snapshot.
func resolve(op Operand, snapshot map[string]float64) (decimal.Decimal, bool) {
	if !op.IsRef {
		return op.Literal, true
	}
	v, ok := snapshot[op.Key]
	if !ok {
		return decimal.Zero, false
	}
	return decimal.NewFromFloat(v), true
}
