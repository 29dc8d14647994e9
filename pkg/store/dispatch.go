package store

import (
	"github.com/ricochetlabs/ricochet/pkg/cprint"
	"github.com/ricochetlabs/ricochet/pkg/epic"
)

// Dispatch runs one epic cycle for the given action, which may be an
// epic.Action or a bare action-type string. While a cycle is active,
// nested dispatches join it; dispatching from a listener fails with
// noDispatchInEpicListener.
func (s *Store) Dispatch(action any) error {
	a, err := normalizeAction(action)
	if err != nil {
		return err
	}
	if s.afterCycle {
		return epic.NewError(epic.ErrNoDispatchInEpicListener, "")
	}
	if s.inCycle {
		return s.processAction(a, true)
	}

	s.beginCycle(a)
	s.log.V(1).Info("dispatching action", "type", a.Type)
	if s.opts.Debug {
		cprint.DispatchPrintln("dispatching", a.Type)
	}

	procErr := s.processAction(a, true)
	s.inCycle = false
	s.afterCycle = true

	if procErr != nil {
		s.rollback()
		s.log.V(1).Error(procErr, "cycle rolled back", "type", a.Type)
		if s.opts.Debug {
			cprint.RollbackPrintln("rolled back", a.Type)
		}
	} else {
		s.commit()
		s.log.V(1).Info("cycle committed", "type", a.Type, "epics", len(s.epicCache))
		if s.opts.Debug {
			cprint.CommitPrintln("committed", a.Type)
		}
	}

	listenerErr := s.notifyListeners(s.epicCache, s.sourceAction)
	s.cleanupCycle()
	s.afterCycle = false

	if procErr != nil {
		return procErr
	}
	return listenerErr
}

func (s *Store) beginCycle(a epic.Action) {
	s.sourceAction = a
	s.actionCache = map[string]any{}
	s.externalSeen = map[string]struct{}{}
	s.conditionCache = nil
	s.cachedConds = map[*epic.Condition]struct{}{}
	s.epicCache = nil
	s.epicCacheIdx = map[string]*epicTouch{}
	s.undoEntry = undoFrame{}
	s.inCycle = true
}

// processAction matches one action against the updater indices. Direct
// updaters run first, then pattern updaters; chained epic actions and
// handler-queued actions recurse depth-first.
func (s *Store) processAction(a epic.Action, external bool) error {
	if external {
		if s.reg.Has(a.Type) {
			return epic.NewError(epic.ErrInvalidEpicAction, a.Type)
		}
		if _, seen := s.externalSeen[a.Type]; seen {
			e := epic.NewError(epic.ErrNoRepeatedExternalAction, "")
			e.Err = errRepeatedAction(a.Type)
			return e
		}
		s.externalSeen[a.Type] = struct{}{}
	}
	s.actionCache[a.Type] = a.Payload

	for _, u := range s.reg.UpdatersFor(a.Type) {
		c := u.ConditionFor(a.Type)
		if c == nil {
			continue
		}
		val := c.Select(a.Payload, a.Type)
		if !external && s.opts.Equals(val, c.CurrentValue()) {
			continue
		}
		s.stageCondition(c, val)
		if err := s.evaluateUpdater(u, c, a, false); err != nil {
			return err
		}
	}

	if s.opts.Patterns {
		for _, p := range s.reg.PatternKeys() {
			if !s.reg.MatchesPattern(p, a.Type) {
				continue
			}
			for _, u := range s.reg.PatternUpdatersFor(p) {
				c := u.ConditionFor(p)
				if c == nil {
					continue
				}
				val := c.Select(a.Payload, a.Type)
				c.MarkPattern()
				s.stageCondition(c, val)
				if err := s.evaluateUpdater(u, c, a, p == "*"); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// stageCondition records the pre-cycle committed value on first touch,
// then stages the freshly selected one.
func (s *Store) stageCondition(c *epic.Condition, v any) {
	if _, ok := s.cachedConds[c]; !ok {
		s.cachedConds[c] = struct{}{}
		s.conditionCache = append(s.conditionCache, cachedCondition{cond: c, original: c.Value()})
	}
	c.Stage(v)
}

func (s *Store) recordTouch(name, id string) {
	t, ok := s.epicCacheIdx[name]
	if !ok {
		t = &epicTouch{name: name, seen: map[string]bool{}}
		s.epicCacheIdx[name] = t
		s.epicCache = append(s.epicCache, t)
	}
	if !t.seen[id] {
		t.seen[id] = true
		t.ids = append(t.ids, id)
	}
}

func (s *Store) commit() {
	for _, cc := range s.conditionCache {
		cc.cond.Promote()
	}
	for _, t := range s.epicCache {
		ep, err := s.reg.Get(t.name)
		if err != nil {
			continue
		}
		for _, id := range t.ids {
			inst := ep.Instances[id]
			if inst == nil {
				continue
			}
			if inst.StateTouched {
				inst.State = inst.CycleState
			}
			if inst.ScopeTouched {
				inst.Scope = inst.CycleScope
			}
		}
	}
	if s.opts.Undo && len(s.undoEntry) > 0 {
		if len(s.undoStack) == s.opts.MaxUndoStack {
			s.undoStack = s.undoStack[1:]
		}
		s.undoStack = append(s.undoStack, s.undoEntry)
		s.redoStack = nil
	}
}

func (s *Store) rollback() {
	for _, cc := range s.conditionCache {
		cc.cond.SetValue(cc.original)
	}
	// staged instance values are dropped in cleanupCycle; canonical
	// state was never written.
}

func (s *Store) cleanupCycle() {
	for _, cc := range s.conditionCache {
		cc.cond.ClearTransients()
	}
	for _, t := range s.epicCache {
		ep, err := s.reg.Get(t.name)
		if err != nil {
			continue
		}
		for _, id := range t.ids {
			if inst := ep.Instances[id]; inst != nil {
				inst.ClearTransients()
			}
		}
	}
	s.actionCache = nil
	s.externalSeen = nil
	s.conditionCache = nil
	s.cachedConds = nil
	s.epicCache = nil
	s.epicCacheIdx = nil
	s.undoEntry = nil
}
