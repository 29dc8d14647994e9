// Package store implements the ricochet dispatch engine: epic
// registration, action dispatch cycles with all-or-nothing rollback,
// listener notification and bounded undo/redo.
package store

import (
	"errors"
	"fmt"

	"dario.cat/mergo"
	"github.com/go-logr/logr"

	"github.com/ricochetlabs/ricochet/pkg/epic"
	"github.com/ricochetlabs/ricochet/pkg/frozen"
	"github.com/ricochetlabs/ricochet/pkg/registry"
)

// Opts configures a Store. Zero fields are filled with defaults.
type Opts struct {
	// Debug exposes the introspection accessors and dispatch tracing.
	Debug bool
	// Patterns enables wildcard condition and listener routing.
	Patterns bool
	// Undo enables patch recording and the undo/redo stacks.
	Undo bool
	// MaxUndoStack bounds the undo stack, default 10. FIFO eviction.
	MaxUndoStack int
	// Logger receives dispatch/commit/rollback events at V-levels.
	Logger logr.Logger
	// Equals is the value-equality predicate used for change
	// detection, default JSON equality.
	Equals func(a, b any) bool
}

// cachedCondition pairs a condition touched this cycle with its
// pre-cycle committed value, for rollback.
type cachedCondition struct {
	cond     *epic.Condition
	original any
}

// epicTouch records the instances of one epic written this cycle, in
// first-write order.
type epicTouch struct {
	name string
	ids  []string
	seen map[string]bool
}

type entity int

const (
	entityState entity = iota
	entityScope
)

type patchPair struct {
	undo frozen.Patch
	redo frozen.Patch
}

type entityPatches struct {
	state *patchPair
	scope *patchPair
}

// undoFrame is one committed cycle's worth of inverse patches:
// epic name → instance id → per-entity patch pairs.
type undoFrame map[string]map[string]*entityPatches

// Store is the dispatch engine. It is single-threaded by contract:
// exactly one cycle is active at any time.
type Store struct {
	opts Opts
	log  logr.Logger
	reg  *registry.Registry

	inCycle    bool
	afterCycle bool

	sourceAction   epic.Action
	actionCache    map[string]any
	externalSeen   map[string]struct{}
	conditionCache []cachedCondition
	cachedConds    map[*epic.Condition]struct{}
	epicCache      []*epicTouch
	epicCacheIdx   map[string]*epicTouch
	undoEntry      undoFrame

	undoStack []undoFrame
	redoStack []undoFrame
}

// New creates a Store with the given options.
func New(opts Opts) (*Store, error) {
	defaults := Opts{MaxUndoStack: 10}
	if err := mergo.Merge(&opts, defaults); err != nil {
		return nil, fmt.Errorf("merging store defaults: %w", err)
	}
	if opts.Equals == nil {
		opts.Equals = frozen.JSONEqual
	}
	if opts.Logger.GetSink() == nil {
		opts.Logger = logr.Discard()
	}
	if opts.MaxUndoStack < 1 {
		return nil, fmt.Errorf("maxUndoStack must be at least 1")
	}

	reg, err := registry.New()
	if err != nil {
		return nil, err
	}
	return &Store{
		opts: opts,
		log:  opts.Logger,
		reg:  reg,
	}, nil
}

// RegisterEpic compiles and registers an epic. Duplicate names are
// rejected with a duplicateEpic error.
func (s *Store) RegisterEpic(spec epic.Spec) error {
	if s.inCycle || s.afterCycle {
		return fmt.Errorf("cannot register epic %q during a dispatch cycle", spec.Name)
	}
	e, err := epic.Compile(spec, s.opts.Patterns)
	if err != nil {
		return err
	}
	if err := s.reg.Insert(e); err != nil {
		if errors.Is(err, registry.ErrAlreadyExists) {
			de := epic.NewError(epic.ErrDuplicateEpic, spec.Name)
			de.Err = err
			return de
		}
		return err
	}
	return nil
}

// UnregisterEpic removes an epic and drops its updaters from every
// condition index.
func (s *Store) UnregisterEpic(name string) error {
	if s.inCycle || s.afterCycle {
		return fmt.Errorf("cannot unregister epic %q during a dispatch cycle", name)
	}
	return s.reg.Remove(name)
}

func errRepeatedAction(t string) error {
	return fmt.Errorf("external action %q already dispatched in this cycle", t)
}

func normalizeAction(in any) (epic.Action, error) {
	var a epic.Action
	switch tv := in.(type) {
	case string:
		a = epic.Action{Type: tv}
	case epic.Action:
		a = tv
	case *epic.Action:
		a = *tv
	default:
		return a, fmt.Errorf("unsupported action input %T", in)
	}
	if a.Type == "" {
		return a, fmt.Errorf("action type is required")
	}
	return a, nil
}
