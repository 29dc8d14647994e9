package registry

import (
	"fmt"
	"regexp"
	"sort"

	memdb "github.com/hashicorp/go-memdb"
	"github.com/samber/lo"

	"github.com/ricochetlabs/ricochet/pkg/epic"
)

const (
	epicTableName = "epic"
	all           = "all"
)

// ErrNotFound is returned when an epic is not present in the registry.
var ErrNotFound = fmt.Errorf("epic not found")

// ErrAlreadyExists is returned when an epic name is already taken.
var ErrAlreadyExists = fmt.Errorf("epic already exists")

const unexpectedType = "unexpected type found"

var allIndex = &memdb.IndexSchema{
	Name: all,
	Indexer: &memdb.ConditionalIndex{
		Conditional: func(_ interface{}) (bool, error) {
			return true, nil
		},
	},
}

var epicTableSchema = &memdb.TableSchema{
	Name: epicTableName,
	Indexes: map[string]*memdb.IndexSchema{
		"id": {
			Name:    "id",
			Unique:  true,
			Indexer: &memdb.StringFieldIndex{Field: "Name"},
		},
		all: allIndex,
	},
}

// Listener is a registered listener. Seq preserves registration order
// across the exact and pattern indices; Processed dedups a listener
// across one dispatch.
type Listener struct {
	ID         string
	Seq        int
	Conditions []*epic.Condition
	Handler    epic.ListenerHandler
	Processed  bool
}

// Registry holds the registered epics together with the per-action
// updater indices and the listener indices.
type Registry struct {
	db *memdb.MemDB

	updaters     map[string][]*epic.Updater
	patterns     map[string][]*epic.Updater
	patternOrder []string

	epicListeners        map[string]map[string][]*Listener
	patternListeners     map[string]map[string][]*Listener
	patternListenerOrder []string

	patternRegexps map[string]*regexp.Regexp

	listenerSeq int
}

// New creates an empty registry.
func New() (*Registry, error) {
	schema := &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			epicTableName: epicTableSchema,
		},
	}
	db, err := memdb.NewMemDB(schema)
	if err != nil {
		return nil, fmt.Errorf("creating epic table: %w", err)
	}
	return &Registry{
		db:               db,
		updaters:         map[string][]*epic.Updater{},
		patterns:         map[string][]*epic.Updater{},
		epicListeners:    map[string]map[string][]*Listener{},
		patternListeners: map[string]map[string][]*Listener{},
		patternRegexps:   map[string]*regexp.Regexp{},
	}, nil
}

// Insert registers an epic and indexes its updaters. A taken name is
// rejected with ErrAlreadyExists and leaves the registry untouched.
func (r *Registry) Insert(e *epic.Epic) error {
	if e.Name == "" {
		return fmt.Errorf("epic name is required")
	}
	txn := r.db.Txn(true)
	defer txn.Abort()

	existing, err := txn.First(epicTableName, "id", e.Name)
	if err != nil {
		return err
	}
	if existing != nil {
		return fmt.Errorf("inserting epic %v: %w", e.Name, ErrAlreadyExists)
	}
	if err := txn.Insert(epicTableName, e); err != nil {
		return err
	}
	txn.Commit()

	for _, u := range e.Updaters {
		r.indexUpdater(u)
	}
	return nil
}

func (r *Registry) indexUpdater(u *epic.Updater) {
	seen := map[string]bool{}
	for _, c := range u.Conditions {
		if seen[c.Type] {
			continue
		}
		seen[c.Type] = true
		if c.IsPattern() {
			if _, ok := r.patterns[c.Type]; !ok {
				r.patternOrder = append(r.patternOrder, c.Type)
			}
			r.patterns[c.Type] = append(r.patterns[c.Type], u)
			r.patternRegexps[c.Type] = c.Pattern
			continue
		}
		r.updaters[c.Type] = append(r.updaters[c.Type], u)
	}
}

// Get returns the epic registered under name.
func (r *Registry) Get(name string) (*epic.Epic, error) {
	txn := r.db.Txn(false)
	defer txn.Abort()

	res, err := txn.First(epicTableName, "id", name)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, ErrNotFound
	}
	e, ok := res.(*epic.Epic)
	if !ok {
		panic(unexpectedType)
	}
	return e, nil
}

// Has reports whether name is a registered epic.
func (r *Registry) Has(name string) bool {
	_, err := r.Get(name)
	return err == nil
}

// GetAll returns all registered epics.
func (r *Registry) GetAll() ([]*epic.Epic, error) {
	txn := r.db.Txn(false)
	defer txn.Abort()

	iter, err := txn.Get(epicTableName, all, true)
	if err != nil {
		return nil, err
	}
	var res []*epic.Epic
	for el := iter.Next(); el != nil; el = iter.Next() {
		e, ok := el.(*epic.Epic)
		if !ok {
			panic(unexpectedType)
		}
		res = append(res, e)
	}
	return res, nil
}

// Remove unregisters the epic and filters its updaters out of every
// condition index.
func (r *Registry) Remove(name string) error {
	e, err := r.Get(name)
	if err != nil {
		return err
	}

	txn := r.db.Txn(true)
	defer txn.Abort()
	if err := txn.Delete(epicTableName, e); err != nil {
		return err
	}
	txn.Commit()

	notOwned := func(u *epic.Updater, _ int) bool {
		return u.Epic != name
	}
	for t, us := range r.updaters {
		r.updaters[t] = lo.Filter(us, notOwned)
		if len(r.updaters[t]) == 0 {
			delete(r.updaters, t)
		}
	}
	for t, us := range r.patterns {
		r.patterns[t] = lo.Filter(us, notOwned)
		if len(r.patterns[t]) == 0 {
			delete(r.patterns, t)
			r.patternOrder = lo.Filter(r.patternOrder, func(k string, _ int) bool {
				return k != t
			})
		}
	}
	return nil
}

// UpdatersFor returns the updaters indexed under a literal action
// type, in registration order.
func (r *Registry) UpdatersFor(t string) []*epic.Updater {
	return r.updaters[t]
}

// PatternKeys returns the wildcard index keys in first-registration
// order.
func (r *Registry) PatternKeys() []string {
	return r.patternOrder
}

// PatternUpdatersFor returns the updaters indexed under a wildcard
// key, in registration order.
func (r *Registry) PatternUpdatersFor(t string) []*epic.Updater {
	return r.patterns[t]
}

// AddListener indexes a listener under every condition it carries.
// The caller assigns the ID; Seq is assigned here.
func (r *Registry) AddListener(l *Listener) {
	l.Seq = r.listenerSeq
	r.listenerSeq++
	for _, c := range l.Conditions {
		target := c.ID
		if target == "" {
			target = epic.DefaultTarget
		}
		if c.IsPattern() {
			if _, ok := r.patternListeners[c.Type]; !ok {
				r.patternListeners[c.Type] = map[string][]*Listener{}
				r.patternListenerOrder = append(r.patternListenerOrder, c.Type)
			}
			r.patternListeners[c.Type][target] = append(r.patternListeners[c.Type][target], l)
			r.patternRegexps[c.Type] = c.Pattern
			continue
		}
		if _, ok := r.epicListeners[c.Type]; !ok {
			r.epicListeners[c.Type] = map[string][]*Listener{}
		}
		r.epicListeners[c.Type][target] = append(r.epicListeners[c.Type][target], l)
	}
}

// RemoveListener drops a listener from every index. Removing an
// unknown id is a no-op, which makes unsubscribe thunks idempotent.
func (r *Registry) RemoveListener(id string) {
	keep := func(l *Listener, _ int) bool {
		return l.ID != id
	}
	for _, byTarget := range r.epicListeners {
		for target, ls := range byTarget {
			byTarget[target] = lo.Filter(ls, keep)
			if len(byTarget[target]) == 0 {
				delete(byTarget, target)
			}
		}
	}
	for _, byTarget := range r.patternListeners {
		for target, ls := range byTarget {
			byTarget[target] = lo.Filter(ls, keep)
			if len(byTarget[target]) == 0 {
				delete(byTarget, target)
			}
		}
	}
}

// ListenersFor returns the exact-type listeners for an epic and
// instance id, falling back to the unscoped DefaultTarget set.
func (r *Registry) ListenersFor(name, id string) []*Listener {
	byTarget, ok := r.epicListeners[name]
	if !ok {
		return nil
	}
	if ls, ok := byTarget[id]; ok {
		return ls
	}
	return byTarget[epic.DefaultTarget]
}

// PatternListenerKeys returns the wildcard listener keys in
// first-registration order.
func (r *Registry) PatternListenerKeys() []string {
	return r.patternListenerOrder
}

// MatchesPattern reports whether name satisfies the wildcard key. The
// key must have been indexed by an updater or listener registration.
func (r *Registry) MatchesPattern(key, name string) bool {
	re, ok := r.patternRegexps[key]
	if !ok {
		re = epic.PatternRegex(key)
		r.patternRegexps[key] = re
	}
	return re.MatchString(name)
}

// ListenerCount returns the number of exact-type listener
// registrations for an epic, across all targets.
func (r *Registry) ListenerCount(name string) int {
	return len(r.AllListenersFor(name))
}

// AllListenersFor returns every exact-type listener registered for an
// epic, across all targets, in registration order.
func (r *Registry) AllListenersFor(name string) []*Listener {
	var out []*Listener
	for _, ls := range r.epicListeners[name] {
		out = append(out, ls...)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Seq < out[j].Seq
	})
	return out
}

// PatternListenersFor returns the pattern listeners under key for an
// instance id, falling back to the unscoped DefaultTarget set.
func (r *Registry) PatternListenersFor(key, id string) []*Listener {
	byTarget, ok := r.patternListeners[key]
	if !ok {
		return nil
	}
	if ls, ok := byTarget[id]; ok {
		return ls
	}
	return byTarget[epic.DefaultTarget]
}
