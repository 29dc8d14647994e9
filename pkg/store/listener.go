package store

import (
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/ricochetlabs/ricochet/pkg/epic"
	"github.com/ricochetlabs/ricochet/pkg/registry"
	"github.com/ricochetlabs/ricochet/pkg/utils"
)

// AddListener registers a listener over the given conditions and
// returns an idempotent unsubscribe thunk. Listener conditions accept
// strings and ConditionSpec values; disjunction slices are rejected.
func (s *Store) AddListener(conditions []any, handler epic.ListenerHandler) (func(), error) {
	if handler == nil {
		return nil, fmt.Errorf("listener handler is required")
	}
	l := &registry.Listener{ID: uuid.NewString(), Handler: handler}
	for _, cin := range conditions {
		if _, ok := cin.([]any); ok {
			return nil, epic.NewError(epic.ErrInvalidConditionType, "")
		}
		c, err := epic.CompileCondition(cin, s.opts.Patterns)
		if err != nil {
			return nil, err
		}
		l.Conditions = append(l.Conditions, c)
	}
	if len(l.Conditions) == 0 {
		return nil, epic.NewError(epic.ErrInvalidConditionType, "")
	}
	s.reg.AddListener(l)
	return func() {
		s.reg.RemoveListener(l.ID)
	}, nil
}

// notifyListeners fans committed changes out to the exact and pattern
// listeners of every touched epic. Handler errors are collected; the
// aggregate never affects committed state.
func (s *Store) notifyListeners(cache []*epicTouch, source epic.Action) error {
	eq := s.opts.Equals
	var errs []error
	var visited []*registry.Listener

	touched := make(map[string]*epicTouch, len(cache))
	for _, t := range cache {
		touched[t.name] = t
	}

	for _, t := range cache {
		var patternKeys []string
		if s.opts.Patterns {
			for _, p := range s.reg.PatternListenerKeys() {
				if s.reg.MatchesPattern(p, t.name) {
					patternKeys = append(patternKeys, p)
				}
			}
		}

		for _, id := range t.ids {
			candidates := append([]*registry.Listener{}, s.reg.ListenersFor(t.name, id)...)
			var patternCandidates []*registry.Listener
			for _, p := range patternKeys {
				patternCandidates = append(patternCandidates, s.reg.PatternListenersFor(p, id)...)
			}
			sort.SliceStable(patternCandidates, func(i, j int) bool {
				return patternCandidates[i].Seq < patternCandidates[j].Seq
			})
			candidates = append(candidates, patternCandidates...)

			for _, l := range candidates {
				if l.Processed {
					continue
				}
				l.Processed = true
				visited = append(visited, l)

				hasRequired := false
				hasChangedActive := false
				hasUnchangedRequired := false
				for _, c := range l.Conditions {
					changed := s.evalListenerCondition(c, cache, touched, t.name, id, eq)
					if c.Required {
						hasRequired = true
						if !changed {
							hasUnchangedRequired = true
						}
					} else if !c.Passive && changed {
						hasChangedActive = true
					}
				}

				fire := hasChangedActive
				if hasRequired {
					fire = !hasUnchangedRequired
				}
				if !fire {
					continue
				}

				if err := l.Handler(handlerValues(l.Conditions), epic.ListenerContext{SourceAction: source}); err != nil {
					errs = append(errs, err)
				}
			}
		}
	}

	for _, l := range visited {
		for _, c := range l.Conditions {
			c.Promote()
			c.ClearPattern()
		}
		l.Processed = false
	}

	if len(errs) > 0 {
		s.log.V(1).Info("listener errors collected", "count", len(errs))
		return utils.ErrArray{Errors: errs}
	}
	return nil
}

// evalListenerCondition stages the condition's selector value over the
// touched epics and reports whether it counts as changed. Conditions
// on epics outside the epic cache stay unevaluated.
func (s *Store) evalListenerCondition(
	c *epic.Condition,
	cache []*epicTouch,
	touched map[string]*epicTouch,
	currentName, currentID string,
	eq func(a, b any) bool,
) bool {
	name := ""
	if c.IsPattern() {
		for _, t := range cache {
			if c.Pattern.MatchString(t.name) {
				name = t.name
				c.MarkPattern()
				break
			}
		}
	} else if _, ok := touched[c.Type]; ok {
		name = c.Type
	}
	if name == "" {
		return c.MatchedPattern() || c.DidChange(eq)
	}

	ep, err := s.reg.Get(name)
	if err != nil {
		return false
	}

	instID := c.ID
	if instID == "" {
		switch {
		case !ep.Instanced:
			instID = epic.DefaultTarget
		case name == currentName:
			instID = currentID
		default:
			instID = touched[name].ids[0]
		}
	}
	inst := ep.Instances[instID]
	if inst == nil {
		return false
	}

	c.Stage(c.Select(inst.State, name))
	return c.MatchedPattern() || c.DidChange(eq)
}
