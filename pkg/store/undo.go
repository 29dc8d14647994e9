package store

import (
	"fmt"
	"sort"

	"github.com/ricochetlabs/ricochet/pkg/epic"
	"github.com/ricochetlabs/ricochet/pkg/frozen"
)

const (
	undoActionType = "STORE_UNDO"
	redoActionType = "STORE_REDO"
)

// ErrUndoDisabled is returned by Undo and Redo when the store was
// created without the undo option.
var ErrUndoDisabled = fmt.Errorf("undo is not enabled on this store")

// Undo reverts the most recently committed cycle by applying its
// inverse patches to canonical state, then notifies listeners with a
// STORE_UNDO source action. A no-op when the undo stack is empty.
func (s *Store) Undo() error {
	return s.applyHistory(true)
}

// Redo re-applies the most recently undone cycle and notifies
// listeners with a STORE_REDO source action. A no-op when the redo
// stack is empty.
func (s *Store) Redo() error {
	return s.applyHistory(false)
}

func (s *Store) applyHistory(undo bool) error {
	if !s.opts.Undo {
		return ErrUndoDisabled
	}
	if s.inCycle || s.afterCycle {
		return epic.NewError(epic.ErrNoDispatchInEpicListener, "")
	}

	var entry undoFrame
	if undo {
		if len(s.undoStack) == 0 {
			return nil
		}
		entry = s.undoStack[len(s.undoStack)-1]
		s.undoStack = s.undoStack[:len(s.undoStack)-1]
	} else {
		if len(s.redoStack) == 0 {
			return nil
		}
		entry = s.redoStack[len(s.redoStack)-1]
		s.redoStack = s.redoStack[:len(s.redoStack)-1]
	}

	cache, err := s.applyFrame(entry, undo)
	if err != nil {
		return err
	}

	source := epic.Action{Type: redoActionType}
	if undo {
		s.redoStack = append(s.redoStack, entry)
		source = epic.Action{Type: undoActionType}
	} else {
		if len(s.undoStack) == s.opts.MaxUndoStack {
			s.undoStack = s.undoStack[1:]
		}
		s.undoStack = append(s.undoStack, entry)
	}
	s.log.V(1).Info("history applied", "type", source.Type, "epics", len(cache))

	s.afterCycle = true
	listenerErr := s.notifyListeners(cache, source)
	s.afterCycle = false
	return listenerErr
}

// applyFrame mutates canonical state directly; history application
// runs outside a dispatch cycle and never rolls back.
func (s *Store) applyFrame(entry undoFrame, undo bool) ([]*epicTouch, error) {
	var cache []*epicTouch

	names := make([]string, 0, len(entry))
	for name := range entry {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		ep, err := s.reg.Get(name)
		if err != nil {
			continue
		}

		byInstance := entry[name]
		ids := make([]string, 0, len(byInstance))
		for id := range byInstance {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		touch := &epicTouch{name: name, seen: map[string]bool{}}
		for _, id := range ids {
			inst := ep.Instances[id]
			if inst == nil {
				continue
			}
			patches := byInstance[id]
			if patches.state != nil {
				next, err := s.applyEntityPatch(patches.state, undo, inst.State)
				if err != nil {
					return nil, fmt.Errorf("applying history to epic %q state: %w", name, err)
				}
				inst.State = next
			}
			if patches.scope != nil {
				next, err := s.applyEntityPatch(patches.scope, undo, inst.Scope)
				if err != nil {
					return nil, fmt.Errorf("applying history to epic %q scope: %w", name, err)
				}
				inst.Scope = next
			}
			touch.seen[id] = true
			touch.ids = append(touch.ids, id)
		}
		if len(touch.ids) > 0 {
			cache = append(cache, touch)
		}
	}
	return cache, nil
}

func (s *Store) applyEntityPatch(pair *patchPair, undo bool, current any) (any, error) {
	patch := pair.redo
	if undo {
		patch = pair.undo
	}
	next, err := frozen.Apply(patch, frozen.Unfreeze(current))
	if err != nil {
		return nil, err
	}
	return frozen.Freeze(next), nil
}
