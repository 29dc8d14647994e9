package store

import (
	"fmt"

	"github.com/ricochetlabs/ricochet/pkg/epic"
	"github.com/ricochetlabs/ricochet/pkg/frozen"
)

// evaluateUpdater decides whether an updater fires for the triggering
// condition, then invokes the handler once per target instance and
// stages the resulting writes.
func (s *Store) evaluateUpdater(u *epic.Updater, trigger *epic.Condition, a epic.Action, forcePassive bool) error {
	eq := s.opts.Equals

	// A passive trigger only fires the updater when another active
	// condition changed this cycle and has not yet been consumed by
	// an earlier fire.
	if trigger.Passive {
		fire := false
		for _, k := range u.Conditions {
			if k == trigger || k.Passive {
				continue
			}
			if k.MatchedPattern() || k.DidChange(eq) {
				fire = true
				break
			}
		}
		if !fire {
			return nil
		}
	}

	// Every required condition other than the trigger must have
	// changed this cycle.
	for _, k := range u.Conditions {
		if k == trigger || k.Passive || !k.Required {
			continue
		}
		if k.MatchedPattern() || k.DidChange(eq) {
			continue
		}
		return nil
	}

	ep, err := s.reg.Get(u.Epic)
	if err != nil {
		return err
	}

	var targets []string
	switch {
	case !ep.Instanced:
		targets = []string{epic.DefaultTarget}
	case a.Target != "":
		ep.EnsureInstance(a.Target)
		targets = []string{a.Target}
	default:
		targets = append(targets, ep.InstanceOrder...)
	}

	for _, id := range targets {
		inst := ep.Instances[id]
		if inst == nil {
			continue
		}
		if err := s.applyUpdater(u, ep, id, inst, a, forcePassive); err != nil {
			return err
		}
	}
	return nil
}

func handlerValues(conditions []*epic.Condition) epic.Values {
	values := make(epic.Values, len(conditions))
	for i, c := range conditions {
		v := c.CurrentValue()
		if frozen.IsInitial(v) {
			values[i] = nil
			continue
		}
		values[i] = frozen.Unfreeze(v)
	}
	return values
}

func publicValue(v any) any {
	if frozen.IsInitial(v) {
		return nil
	}
	return frozen.Unfreeze(v)
}

func (s *Store) applyUpdater(u *epic.Updater, ep *epic.Epic, id string, inst *epic.Instance, a epic.Action, forcePassive bool) error {
	ctx := epic.Context{
		State:             publicValue(inst.State),
		CurrentCycleState: publicValue(inst.CurrentState()),
		Scope:             publicValue(inst.Scope),
		CurrentCycleScope: publicValue(inst.CurrentScope()),
		SourceAction:      s.sourceAction,
		CurrentAction:     a,
	}

	update, err := u.Handler(handlerValues(u.Conditions), ctx)
	if err != nil {
		return err
	}

	// The handler consumed this updater's pending condition changes.
	for _, c := range u.Conditions {
		c.Promote()
		c.ClearPattern()
	}

	if update == nil {
		return nil
	}

	if update.Scope != nil {
		if err := s.stageEntity(u, ep, id, inst, entityScope, update.Scope); err != nil {
			return err
		}
	}
	if update.State != nil {
		if err := s.stageEntity(u, ep, id, inst, entityState, update.State); err != nil {
			return err
		}
		if !forcePassive && !update.Passive {
			ea := epic.Action{Type: ep.Name, Payload: inst.CycleState}
			if ep.Instanced && id != epic.DefaultTarget {
				ea.Target = id
			}
			if err := s.processAction(ea, false); err != nil {
				return err
			}
		}
	}

	for _, qa := range update.Actions {
		if qa.Type == "" {
			return fmt.Errorf("queued action from epic %q updater %d has no type", u.Epic, u.Index)
		}
		if err := s.processAction(qa, true); err != nil {
			return err
		}
	}
	return nil
}

// stageEntity merges a handler delta onto the staged value and records
// the inverse patches when undo is enabled.
func (s *Store) stageEntity(u *epic.Updater, ep *epic.Epic, id string, inst *epic.Instance, ent entity, delta any) error {
	var base any
	if ent == entityState {
		base = inst.CurrentState()
	} else {
		base = inst.CurrentScope()
	}

	merged, undoPatch, redoPatch, err := frozen.Merge(frozen.Unfreeze(base), delta)
	if err != nil {
		he := epic.NewError(epic.ErrInvalidHandlerUpdate, ep.Name)
		he.Updater = u.Index
		he.Err = err
		return he
	}

	if ent == entityState {
		inst.CycleState = merged
		inst.StateTouched = true
	} else {
		inst.CycleScope = merged
		inst.ScopeTouched = true
	}
	s.recordTouch(ep.Name, id)

	if s.opts.Undo {
		s.recordPatches(ep.Name, id, ent, undoPatch, redoPatch)
	}
	return nil
}

func (s *Store) recordPatches(name, id string, ent entity, undoPatch, redoPatch frozen.Patch) {
	byInstance, ok := s.undoEntry[name]
	if !ok {
		byInstance = map[string]*entityPatches{}
		s.undoEntry[name] = byInstance
	}
	patches, ok := byInstance[id]
	if !ok {
		patches = &entityPatches{}
		byInstance[id] = patches
	}

	var pair **patchPair
	if ent == entityState {
		pair = &patches.state
	} else {
		pair = &patches.scope
	}
	if *pair == nil {
		*pair = &patchPair{undo: undoPatch, redo: redoPatch}
		return
	}
	(*pair).undo = frozen.Compose(undoPatch, (*pair).undo)
	(*pair).redo = frozen.Compose((*pair).redo, redoPatch)
}
