package epic

import (
	"github.com/ricochetlabs/ricochet/pkg/frozen"
)

// DefaultTarget is the sentinel instance key used for singleton epics
// and for listeners not scoped to a specific instance. It must never
// be used as a user instance id.
const DefaultTarget = "\x00default"

// Action is the unit of dispatch. Internal epic actions carry the epic
// name as Type and the freshly staged state as Payload.
type Action struct {
	Type    string
	Payload any
	Target  string
}

// NewAction returns an action with the given type and no payload.
func NewAction(t string) Action {
	return Action{Type: t}
}

// Values is the handler-parameter view: one entry per condition of the
// owning updater, in condition order. Unset values appear as nil.
type Values []any

// Context carries the epic's values and the actions driving the cycle
// into a reducer handler. State and Scope are the pre-cycle canonical
// values; the CurrentCycle variants include writes staged earlier in
// the same cycle.
type Context struct {
	State             any
	CurrentCycleState any
	Scope             any
	CurrentCycleScope any
	SourceAction      Action
	CurrentAction     Action
}

// Update is a reducer handler's response. State and Scope are deltas
// merged onto the epic's staged values. Actions are dispatched as
// external actions after the write. Passive suppresses the chained
// epic action for this write.
type Update struct {
	State   any
	Scope   any
	Actions []Action
	Passive bool
}

// Handler is a reducer body. A returned error aborts the cycle and
// rolls back every staged write.
type Handler func(values Values, ctx Context) (*Update, error)

// ListenerContext carries the source action into a listener handler.
type ListenerContext struct {
	SourceAction Action
}

// ListenerHandler observes committed changes. Errors are collected and
// surfaced after all listeners ran; they never affect committed state.
type ListenerHandler func(values Values, ctx ListenerContext) error

// Updater is one compiled (conditions, handler) pair owned by an epic.
// Index is the registration order within the owning epic.
type Updater struct {
	Epic       string
	Conditions []*Condition
	Handler    Handler
	Index      int
}

// ConditionFor returns the first condition matching the given type.
func (u *Updater) ConditionFor(t string) *Condition {
	for _, c := range u.Conditions {
		if c.Type == t {
			return c
		}
	}
	return nil
}

// Instance is one state/scope replica of an epic. Singleton epics own
// exactly one instance under DefaultTarget.
type Instance struct {
	State any
	Scope any

	// staged values, live only within a cycle
	CycleState   any
	CycleScope   any
	StateTouched bool
	ScopeTouched bool
}

// CurrentState returns the staged state if this cycle wrote one, else
// the canonical state.
func (i *Instance) CurrentState() any {
	if i.StateTouched {
		return i.CycleState
	}
	return i.State
}

// CurrentScope returns the staged scope if this cycle wrote one, else
// the canonical scope.
func (i *Instance) CurrentScope() any {
	if i.ScopeTouched {
		return i.CycleScope
	}
	return i.Scope
}

// ClearTransients drops staged values after commit or rollback.
func (i *Instance) ClearTransients() {
	i.CycleState = nil
	i.CycleScope = nil
	i.StateTouched = false
	i.ScopeTouched = false
}

// Epic is a compiled, registered epic. Instanced epics replicate
// state/scope per instance id, lazily cloned from the defaults.
type Epic struct {
	Name      string
	Updaters  []*Updater
	Instanced bool

	DefaultState any
	DefaultScope any

	Instances     map[string]*Instance
	InstanceOrder []string
}

// EnsureInstance returns the instance for id, creating it from the
// epic defaults on first use.
func (e *Epic) EnsureInstance(id string) *Instance {
	if inst, ok := e.Instances[id]; ok {
		return inst
	}
	inst := &Instance{
		State: frozen.Freeze(e.DefaultState),
		Scope: frozen.Freeze(e.DefaultScope),
	}
	if e.Instances == nil {
		e.Instances = map[string]*Instance{}
	}
	e.Instances[id] = inst
	e.InstanceOrder = append(e.InstanceOrder, id)
	return inst
}

// Spec is the registration shape of an epic.
type Spec struct {
	Name     string
	State    any
	Scope    any
	Updaters []UpdaterSpec
	Instance bool
}

// UpdaterSpec is the registration shape of one reducer. Conditions
// accepts strings, ConditionSpec values and nested slices (anyOf
// disjunctions, expanded at compile time).
type UpdaterSpec struct {
	Conditions []any
	Handler    Handler
}
