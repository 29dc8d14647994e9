package store

import (
	"fmt"

	"github.com/samber/lo"

	"github.com/ricochetlabs/ricochet/pkg/epic"
	"github.com/ricochetlabs/ricochet/pkg/registry"
)

// ErrDebugDisabled is returned by the introspection accessors when the
// store was created without the debug option.
var ErrDebugDisabled = fmt.Errorf("introspection requires a debug store")

// ConditionInfo is a structural copy of one compiled condition.
type ConditionInfo struct {
	Type     string
	Passive  bool
	Required bool
	ID       string
}

// UpdaterInfo is a structural copy of one compiled updater.
type UpdaterInfo struct {
	Epic       string
	Index      int
	Conditions []ConditionInfo
}

// EpicState returns a copy of the singleton state of an epic. The
// initial sentinel surfaces as nil.
func (s *Store) EpicState(name string) (any, error) {
	return s.instanceEntity(name, epic.DefaultTarget, entityState)
}

// EpicScope returns a copy of the singleton scope of an epic.
func (s *Store) EpicScope(name string) (any, error) {
	return s.instanceEntity(name, epic.DefaultTarget, entityScope)
}

// InstanceState returns a copy of one instance's state of an
// instanced epic.
func (s *Store) InstanceState(name, id string) (any, error) {
	return s.instanceEntity(name, id, entityState)
}

// InstanceScope returns a copy of one instance's scope of an
// instanced epic.
func (s *Store) InstanceScope(name, id string) (any, error) {
	return s.instanceEntity(name, id, entityScope)
}

func (s *Store) instanceEntity(name, id string, ent entity) (any, error) {
	if !s.opts.Debug {
		return nil, ErrDebugDisabled
	}
	ep, err := s.reg.Get(name)
	if err != nil {
		return nil, err
	}
	inst := ep.Instances[id]
	if inst == nil {
		return nil, fmt.Errorf("epic %q has no instance %q", name, id)
	}
	if ent == entityState {
		return publicValue(inst.State), nil
	}
	return publicValue(inst.Scope), nil
}

// InstanceIDs returns the instance ids of an instanced epic in
// creation order.
func (s *Store) InstanceIDs(name string) ([]string, error) {
	if !s.opts.Debug {
		return nil, ErrDebugDisabled
	}
	ep, err := s.reg.Get(name)
	if err != nil {
		return nil, err
	}
	return lo.Filter(ep.InstanceOrder, func(id string, _ int) bool {
		return id != epic.DefaultTarget
	}), nil
}

// Updaters returns structural copies of an epic's compiled updaters.
func (s *Store) Updaters(name string) ([]UpdaterInfo, error) {
	if !s.opts.Debug {
		return nil, ErrDebugDisabled
	}
	ep, err := s.reg.Get(name)
	if err != nil {
		return nil, err
	}
	return lo.Map(ep.Updaters, func(u *epic.Updater, _ int) UpdaterInfo {
		return UpdaterInfo{
			Epic:       u.Epic,
			Index:      u.Index,
			Conditions: conditionInfos(u.Conditions),
		}
	}), nil
}

func conditionInfos(conditions []*epic.Condition) []ConditionInfo {
	return lo.Map(conditions, func(c *epic.Condition, _ int) ConditionInfo {
		return ConditionInfo{
			Type:     c.Type,
			Passive:  c.Passive,
			Required: c.Required,
			ID:       c.ID,
		}
	})
}

// ListenerInfo is a structural copy of one registered listener.
type ListenerInfo struct {
	Conditions []ConditionInfo
}

// Listeners returns structural copies of the exact-type listeners
// registered for an epic, in registration order.
func (s *Store) Listeners(name string) ([]ListenerInfo, error) {
	if !s.opts.Debug {
		return nil, ErrDebugDisabled
	}
	return lo.Map(s.reg.AllListenersFor(name), func(l *registry.Listener, _ int) ListenerInfo {
		return ListenerInfo{Conditions: conditionInfos(l.Conditions)}
	}), nil
}

// ListenerCount returns the number of exact-type listener
// registrations for an epic.
func (s *Store) ListenerCount(name string) (int, error) {
	if !s.opts.Debug {
		return 0, ErrDebugDisabled
	}
	return s.reg.ListenerCount(name), nil
}

// UndoStackSize returns the current depth of the undo stack.
func (s *Store) UndoStackSize() (int, error) {
	if !s.opts.Debug {
		return 0, ErrDebugDisabled
	}
	return len(s.undoStack), nil
}

// RedoStackSize returns the current depth of the redo stack.
func (s *Store) RedoStackSize() (int, error) {
	if !s.opts.Debug {
		return 0, ErrDebugDisabled
	}
	return len(s.redoStack), nil
}
