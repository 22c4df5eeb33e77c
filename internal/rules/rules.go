package rules

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/Sunil0809/nautier-tradetron/internal/event"
	"github.com/shopspring/decimal"
)

// Combinator joins a rule's conditions.
type Combinator string

const (
	CombinatorAnd Combinator = "AND"
	CombinatorOr  Combinator = "OR"
)

// Operator is one of the closed set of comparison operators. Parsing never
// executes code; this set is the whole grammar.
type Operator string

const (
	OpEq         Operator = "=="
	OpNeq        Operator = "!="
	OpLt         Operator = "<"
	OpLte        Operator = "<="
	OpGt         Operator = ">"
	OpGte        Operator = ">="
	OpCrossAbove Operator = "CROSS_ABOVE"
	OpCrossBelow Operator = "CROSS_BELOW"
)

// Operand is either a literal number or an indicator reference resolved
// against a snapshot at evaluation time.
type Operand struct {
	Key     string          `json:"key,omitempty"` // snapshot key for references
	Literal decimal.Decimal `json:"literal,omitempty"`
	IsRef   bool            `json:"is_ref"`
}

// Condition compares two operands.
type Condition struct {
	Left  Operand  `json:"left"`
	Op    Operator `json:"op"`
	Right Operand  `json:"right"`
}

// Rule is an immutable condition tree mapped to an action.
type Rule struct {
	Name       string       `json:"name"`
	Conditions []Condition  `json:"conditions"`
	Combinator Combinator   `json:"combinator"`
	Action     event.Action `json:"action"`
}

// ParseError describes why a rule source was rejected. A failed parse at
// registration time keeps the strategy's previous rule.
type ParseError struct {
	Field  string
	Detail string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("rules: invalid %s: %s", e.Field, e.Detail)
}

// indicatorRef matches NAME(period), mapped to snapshot key NAME_period.
var indicatorRef = regexp.MustCompile(`^([A-Z][A-Z0-9]*)\(([0-9]+)\)$`)

// indicatorKey matches a bare whitelisted snapshot key (e.g. PRICE, EMA_9).
var indicatorKey = regexp.MustCompile(`^[A-Z][A-Z0-9]*(_[0-9]+)?$`)

// ruleSource is the no-code builder payload.
type ruleSource struct {
	Name       string `json:"name"`
	Conditions []struct {
		Left  string `json:"left"`
		Op    string `json:"op"`
		Right string `json:"right"`
	} `json:"conditions"`
	Operator string `json:"operator"`
	Action   string `json:"action"`
}

// operators maps accepted source spellings to the canonical operator.
var operators = map[string]Operator{
	"=":           OpEq,
	"==":          OpEq,
	"!=":          OpNeq,
	"<":           OpLt,
	"<=":          OpLte,
	">":           OpGt,
	">=":          OpGte,
	"CROSS_ABOVE": OpCrossAbove,
	"CROSS_BELOW": OpCrossBelow,
}

// Parse turns a rule source document into a Rule. It only recognizes the
// closed operator set and the indicator-reference syntax; indicator names
// are validated here, at registration time, not at lookup time.
func Parse(src []byte) (*Rule, error) {
	var raw ruleSource
	if err := json.Unmarshal(src, &raw); err != nil {
		return nil, &ParseError{Field: "source", Detail: err.Error()}
	}

	if strings.TrimSpace(raw.Name) == "" {
		return nil, &ParseError{Field: "name", Detail: "must not be empty"}
	}
	if len(raw.Conditions) == 0 {
		return nil, &ParseError{Field: "conditions", Detail: "at least one condition required"}
	}

	comb := Combinator(strings.ToUpper(strings.TrimSpace(raw.Operator)))
	if comb == "" {
		comb = CombinatorAnd
	}
	if comb != CombinatorAnd && comb != CombinatorOr {
		return nil, &ParseError{Field: "operator", Detail: fmt.Sprintf("unknown combinator %q", raw.Operator)}
	}

	action := event.Action(strings.ToUpper(strings.TrimSpace(raw.Action)))
	switch action {
	case event.ActionBuy, event.ActionSell, event.ActionNone:
	default:
		return nil, &ParseError{Field: "action", Detail: fmt.Sprintf("unknown action %q", raw.Action)}
	}

	conditions := make([]Condition, 0, len(raw.Conditions))
	for i, rc := range raw.Conditions {
		op, ok := operators[strings.ToUpper(strings.TrimSpace(rc.Op))]
		if !ok {
			return nil, &ParseError{
				Field:  fmt.Sprintf("conditions[%d].op", i),
				Detail: fmt.Sprintf("unknown operator %q", rc.Op),
			}
		}
		left, err := parseOperand(rc.Left)
		if err != nil {
			return nil, &ParseError{Field: fmt.Sprintf("conditions[%d].left", i), Detail: err.Error()}
		}
		right, err := parseOperand(rc.Right)
		if err != nil {
			return nil, &ParseError{Field: fmt.Sprintf("conditions[%d].right", i), Detail: err.Error()}
		}
		conditions = append(conditions, Condition{Left: left, Op: op, Right: right})
	}

	return &Rule{
		Name:       strings.TrimSpace(raw.Name),
		Conditions: conditions,
		Combinator: comb,
		Action:     action,
	}, nil
}

// parseOperand recognizes NAME(period) references, bare whitelisted keys,
// and numeric literals.
func parseOperand(s string) (Operand, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Operand{}, fmt.Errorf("operand must not be empty")
	}
	if m := indicatorRef.FindStringSubmatch(s); m != nil {
		return Operand{Key: m[1] + "_" + m[2], IsRef: true}, nil
	}
	if indicatorKey.MatchString(s) {
		return Operand{Key: s, IsRef: true}, nil
	}
	if d, err := decimal.NewFromString(s); err == nil {
		return Operand{Literal: d}, nil
	}
	return Operand{}, fmt.Errorf("operand %q is neither a number nor an indicator reference", s)
}
