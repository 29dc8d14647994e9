package epic

import (
	"encoding/json"
	"reflect"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/ricochetlabs/ricochet/pkg/frozen"
)

// Selector extracts the observed value of a condition from an action
// payload. Selectors must be pure.
type Selector func(payload any, actionType string) any

func identitySelector(payload any, _ string) any {
	return payload
}

// Path returns a selector extracting the given gjson path from the
// payload. A payload that cannot be marshaled or a missing path
// selects nil.
func Path(path string) Selector {
	return func(payload any, _ string) any {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil
		}
		res := gjson.GetBytes(b, path)
		if !res.Exists() {
			return nil
		}
		return res.Value()
	}
}

// ConditionSpec is the registration shape of a condition.
type ConditionSpec struct {
	Type     string
	Selector Selector
	Passive  bool
	Required bool
	ID       string
}

// Condition is a compiled condition. Value is the last committed
// selector value; staged and matchedPattern live only within a cycle.
type Condition struct {
	Type     string
	Selector Selector
	Passive  bool
	Required bool
	ID       string
	Pattern  *regexp.Regexp

	value     any
	staged    any
	hasStaged bool
	matched   bool

	memoArg  any
	memoType string
	memoOut  any
	hasMemo  bool
}

// Select runs the selector, memoized to the last (payload, type) pair.
func (c *Condition) Select(payload any, actionType string) any {
	if c.hasMemo && c.memoType == actionType && sameRef(c.memoArg, payload) {
		return c.memoOut
	}
	out := c.Selector(payload, actionType)
	c.memoArg = payload
	c.memoType = actionType
	c.memoOut = out
	c.hasMemo = true
	return out
}

// Value returns the last committed selector value.
func (c *Condition) Value() any {
	return c.value
}

// SetValue replaces the committed value and drops any staged one.
func (c *Condition) SetValue(v any) {
	c.value = v
	c.staged = nil
	c.hasStaged = false
}

// Stage records the selector value observed this cycle.
func (c *Condition) Stage(v any) {
	c.staged = v
	c.hasStaged = true
}

// Staged returns the staged value and whether one was set this cycle.
func (c *Condition) Staged() (any, bool) {
	return c.staged, c.hasStaged
}

// CurrentValue returns the staged value when set, else the committed
// value.
func (c *Condition) CurrentValue() any {
	if c.hasStaged {
		return c.staged
	}
	return c.value
}

// DidChange reports whether a staged value differs from the committed
// one under eq.
func (c *Condition) DidChange(eq func(a, b any) bool) bool {
	return c.hasStaged && !eq(c.staged, c.value)
}

// Promote commits the staged value, if any.
func (c *Condition) Promote() {
	if c.hasStaged {
		c.value = c.staged
	}
	c.staged = nil
	c.hasStaged = false
}

// MarkPattern flags the condition as matched by a pattern this cycle.
func (c *Condition) MarkPattern() {
	c.matched = true
}

// MatchedPattern reports the pattern flag for this cycle.
func (c *Condition) MatchedPattern() bool {
	return c.matched
}

// ClearPattern drops the pattern flag only.
func (c *Condition) ClearPattern() {
	c.matched = false
}

// ClearTransients drops staged value and pattern flag.
func (c *Condition) ClearTransients() {
	c.staged = nil
	c.hasStaged = false
	c.matched = false
}

// IsPattern reports whether the condition type is a wildcard pattern.
func (c *Condition) IsPattern() bool {
	return c.Pattern != nil
}

// PatternRegex compiles a wildcard type into its anchored regexp. `*`
// is the only metacharacter and expands to a non-greedy `.*?`.
func PatternRegex(t string) *regexp.Regexp {
	parts := strings.Split(t, "*")
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	return regexp.MustCompile("^" + strings.Join(parts, ".*?") + "$")
}

// CompileCondition normalizes a condition input into its compiled
// form. Accepted inputs are a bare string (shorthand for the type), a
// ConditionSpec, or a pointer to one. Wildcard types require patterns
// to be enabled on the store.
func CompileCondition(in any, patterns bool) (*Condition, error) {
	var spec ConditionSpec
	switch tv := in.(type) {
	case string:
		spec = ConditionSpec{Type: tv}
	case ConditionSpec:
		spec = tv
	case *ConditionSpec:
		spec = *tv
	default:
		e := NewError(ErrInvalidConditionType, "")
		e.Err = errUnsupportedInput(in)
		return nil, e
	}
	if spec.Type == "" {
		return nil, NewError(ErrInvalidConditionType, "")
	}

	c := &Condition{
		Type:     spec.Type,
		Selector: spec.Selector,
		Passive:  spec.Passive,
		Required: spec.Required,
		ID:       spec.ID,
		value:    frozen.Initial,
	}
	if c.Selector == nil {
		c.Selector = identitySelector
	}
	if strings.Contains(spec.Type, "*") {
		if !patterns {
			return nil, NewError(ErrInvalidConditionType, "")
		}
		c.Pattern = PatternRegex(spec.Type)
	}
	return c, nil
}

// SplitConditions expands anyOf disjunctions (nested []any entries)
// into fully conjunctive condition vectors, one per combination,
// preserving the order of the first disjunction found.
func SplitConditions(in []any) [][]any {
	for i, entry := range in {
		alts, ok := entry.([]any)
		if !ok {
			continue
		}
		var out [][]any
		for _, alt := range alts {
			branch := make([]any, len(in))
			copy(branch, in)
			branch[i] = alt
			out = append(out, SplitConditions(branch)...)
		}
		return out
	}
	vector := make([]any, len(in))
	copy(vector, in)
	return [][]any{vector}
}

// Compile turns a registration spec into a runtime epic. Disjunctions
// expand into independent updaters sharing the handler; every expanded
// updater must keep at least one non-passive condition.
func Compile(spec Spec, patterns bool) (*Epic, error) {
	e := &Epic{
		Name:         spec.Name,
		Instanced:    spec.Instance,
		DefaultState: frozen.Freeze(initialOr(spec.State)),
		DefaultScope: frozen.Freeze(initialOr(spec.Scope)),
		Instances:    map[string]*Instance{},
	}
	if !e.Instanced {
		e.EnsureInstance(DefaultTarget)
	}

	for ui, us := range spec.Updaters {
		if us.Handler == nil {
			err := NewError(ErrInvalidHandlerUpdate, spec.Name)
			err.Updater = ui
			return nil, err
		}
		for _, vector := range SplitConditions(us.Conditions) {
			u := &Updater{Epic: spec.Name, Handler: us.Handler, Index: ui}
			active := false
			for ci, cin := range vector {
				c, err := CompileCondition(cin, patterns)
				if err != nil {
					var ee *Error
					if asEpicError(err, &ee) {
						ee.Epic = spec.Name
						ee.Updater = ui
						ee.Condition = ci
					}
					return nil, err
				}
				if !c.Passive {
					active = true
				}
				u.Conditions = append(u.Conditions, c)
			}
			if !active {
				err := NewError(ErrNoPassiveUpdaters, spec.Name)
				err.Updater = ui
				return nil, err
			}
			e.Updaters = append(e.Updaters, u)
		}
	}
	return e, nil
}

func initialOr(v any) any {
	if v == nil {
		return frozen.Initial
	}
	return v
}

// sameRef reports identity for reference kinds and equality for
// comparable scalars. Used only for selector memoization.
func sameRef(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	av, bv := reflect.ValueOf(a), reflect.ValueOf(b)
	if av.Kind() != bv.Kind() {
		return false
	}
	switch av.Kind() {
	case reflect.Map, reflect.Slice, reflect.Pointer, reflect.Chan, reflect.Func, reflect.UnsafePointer:
		if av.Kind() == reflect.Slice && (av.Len() == 0 || bv.Len() == 0) {
			return av.Len() == 0 && bv.Len() == 0
		}
		return av.Pointer() == bv.Pointer()
	default:
		return av.Comparable() && bv.Comparable() && a == b
	}
}
