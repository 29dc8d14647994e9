package frozen

import (
	"encoding/json"
	"fmt"

	jsonpatch "github.com/evanphx/json-patch/v5"
)

// ErrMerge is returned when a patch shape is incompatible with the
// target shape, e.g. an object overlaid on a primitive.
var ErrMerge = fmt.Errorf("incompatible merge shapes")

// patchOp is a single reversible step. Either a full-value replacement
// or an RFC 7386 merge patch over a JSON object.
type patchOp struct {
	replace bool
	value   any
	merge   json.RawMessage
}

// Patch is an opaque, composable transform over frozen values. The
// zero Patch applies as a no-op.
type Patch struct {
	ops []patchOp
}

// IsZero reports whether the patch carries no operations.
func (p Patch) IsZero() bool {
	return len(p.ops) == 0
}

// Compose returns a patch equivalent to applying first, then second.
func Compose(first, second Patch) Patch {
	ops := make([]patchOp, 0, len(first.ops)+len(second.ops))
	ops = append(ops, first.ops...)
	ops = append(ops, second.ops...)
	return Patch{ops: ops}
}

// Apply runs the patch against v and returns the patched value.
func Apply(p Patch, v any) (any, error) {
	cur := v
	for _, op := range p.ops {
		if op.replace {
			cur = Unfreeze(op.value)
			continue
		}
		cb, err := json.Marshal(cur)
		if err != nil {
			return nil, fmt.Errorf("marshaling patch target: %w", err)
		}
		res, err := jsonpatch.MergePatch(cb, op.merge)
		if err != nil {
			return nil, fmt.Errorf("applying merge patch: %w", err)
		}
		var out any
		if err := json.Unmarshal(res, &out); err != nil {
			return nil, fmt.Errorf("unmarshaling patched value: %w", err)
		}
		cur = out
	}
	return cur, nil
}

func replacement(v any) Patch {
	return Patch{ops: []patchOp{{replace: true, value: v}}}
}

// Merge overlays patch onto target and returns the merged value along
// with inverse patches: undo restores target from the merged value,
// redo reproduces the merged value from target. target is not mutated.
func Merge(target, patch any) (any, Patch, Patch, error) {
	if target == nil || IsInitial(target) {
		merged := Freeze(patch)
		return merged, replacement(target), replacement(merged), nil
	}

	tm, targetIsMap := target.(map[string]any)
	pm, patchIsMap := patch.(map[string]any)

	if patchIsMap && !targetIsMap {
		return nil, Patch{}, Patch{}, fmt.Errorf("object patch over %T: %w", target, ErrMerge)
	}
	if !patchIsMap {
		merged := Freeze(patch)
		return merged, replacement(Unfreeze(target)), replacement(merged), nil
	}

	merged, err := overlay(tm, pm)
	if err != nil {
		return nil, Patch{}, Patch{}, err
	}
	frozenMerged := Freeze(merged)

	undo, redo, err := objectPatches(target, frozenMerged)
	if err != nil {
		// Unrepresentable as merge patches, fall back to replacement.
		return frozenMerged, replacement(Unfreeze(target)), replacement(frozenMerged), nil
	}
	return frozenMerged, undo, redo, nil
}

// overlay recursively merges patch into a copy of target. Nested maps
// merge, everything else replaces. A map overlaid on a non-map is a
// shape conflict.
func overlay(target, patch map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(target)+len(patch))
	for k, v := range target {
		out[k] = Unfreeze(v)
	}
	for k, pv := range patch {
		pvm, pvIsMap := pv.(map[string]any)
		cur, exists := out[k]
		if !exists || cur == nil {
			out[k] = Unfreeze(pv)
			continue
		}
		cvm, curIsMap := cur.(map[string]any)
		if pvIsMap && !curIsMap {
			return nil, fmt.Errorf("merging key %q: object patch over %T: %w", k, cur, ErrMerge)
		}
		if !pvIsMap {
			out[k] = Unfreeze(pv)
			continue
		}
		sub, err := overlay(cvm, pvm)
		if err != nil {
			return nil, fmt.Errorf("merging key %q: %w", k, err)
		}
		out[k] = sub
	}
	return out, nil
}

func objectPatches(oldVal, newVal any) (Patch, Patch, error) {
	ob, err := json.Marshal(oldVal)
	if err != nil {
		return Patch{}, Patch{}, err
	}
	nb, err := json.Marshal(newVal)
	if err != nil {
		return Patch{}, Patch{}, err
	}
	undoRaw, err := jsonpatch.CreateMergePatch(nb, ob)
	if err != nil {
		return Patch{}, Patch{}, err
	}
	redoRaw, err := jsonpatch.CreateMergePatch(ob, nb)
	if err != nil {
		return Patch{}, Patch{}, err
	}
	undo := Patch{ops: []patchOp{{merge: undoRaw}}}
	redo := Patch{ops: []patchOp{{merge: redoRaw}}}
	return undo, redo, nil
}
