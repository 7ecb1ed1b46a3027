package crdt

import "encoding/json"

// AddEntry is one live value together with the ids of every operation that
// asserted it. Only the Set strategy ever attributes more than one id to a
// single entry. An entry whose id set drains to empty is pruned by the
// caller, it is never kept around.
type AddEntry struct {
	ids   []string
	value any
}

func newAddEntry(id string, value any) *AddEntry {
	return &AddEntry{ids: []string{id}, value: value}
}

func (e *AddEntry) add(id string) {
	for _, existing := range e.ids {
		if existing == id {
			return
		}
	}
	e.ids = append(e.ids, id)
}

func (e *AddEntry) has(id string) bool {
	for _, existing := range e.ids {
		if existing == id {
			return true
		}
	}
	return false
}

func (e *AddEntry) remove(id string) {
	for i, existing := range e.ids {
		if existing == id {
			e.ids = append(e.ids[:i], e.ids[i+1:]...)
			return
		}
	}
}

// first returns the primary id of the entry: the id that created it.
func (e *AddEntry) first() string {
	if len(e.ids) == 0 {
		return ""
	}
	return e.ids[0]
}

// SerializedAdd / SerializedField are the wire shapes of resolved state.
// Ordering is insertion order throughout, downstream consumers rely on it.
type SerializedAdd struct {
	IDs   []string `json:"ids"`
	Value any      `json:"value"`
}

type SerializedField struct {
	Adds    []SerializedAdd `json:"adds"`
	Removes []string        `json:"removes"`
}

// FieldState resolves the ordered operation stream of one named field.
// adds holds the currently winning value(s); removes is the tombstone set,
// it only ever grows, which is what makes exact replays idempotent.
type FieldState struct {
	name string
	typ  MergeType

	adds    []*AddEntry
	removes []string
}

func NewFieldState(name string, typ MergeType) *FieldState {
	return &FieldState{name: name, typ: typ}
}

func (f *FieldState) Name() string    { return f.name }
func (f *FieldState) Type() MergeType { return f.typ }

// Apply routes one operation through the field's merge strategy.
// Well-formed operations never fail; the only errors are a merge type that
// does not match the one the field was created with, or one this engine
// does not know.
func (f *FieldState) Apply(op Operation) error {
	if op.Type != f.typ {
		return ErrTypeMismatch
	}
	switch f.typ {
	case FirstWriterWins, LastWriterWins, LastWriterWinsNullable, Set:
	default:
		return ErrUnknownType
	}

	switch op.Op {
	case OpAdd:
		f.add(op.ID, op.Value)
	case OpRemove:
		f.remove(op.ID)
	}
	return nil
}

func (f *FieldState) add(id string, value any) {
	switch f.typ {
	case FirstWriterWins:
		if len(f.adds) > 0 {
			// Redelivered winner: same id, nothing to account for.
			if f.adds[0].has(id) {
				return
			}
			// The field is already won. The late id is recorded as removed
			// so the log still shows it tried to write.
			f.tombstone(id)
		} else {
			f.adds = append(f.adds, newAddEntry(id, value))
		}
	case LastWriterWins, LastWriterWinsNullable:
		// Ids are unique per operation instance, so an id we already
		// accounted for is a redelivery, not a new write.
		if f.isTombstoned(id) {
			return
		}
		if len(f.adds) > 0 {
			if f.adds[0].has(id) {
				return
			}
			evicted := f.adds[0].first()
			f.adds = []*AddEntry{newAddEntry(id, value)}
			f.tombstone(evicted)
		} else {
			f.adds = append(f.adds, newAddEntry(id, value))
		}
	case Set:
		if existing := f.getByValue(value); existing != nil {
			existing.add(id)
		} else {
			f.adds = append(f.adds, newAddEntry(id, value))
		}
	}
}

func (f *FieldState) remove(id string) {
	// A won FWW/LWW value cannot be rescinded, only overwritten (LWW) or
	// kept forever (FWW).
	if f.typ == FirstWriterWins || f.typ == LastWriterWins {
		return
	}

	kept := f.adds[:0]
	for _, entry := range f.adds {
		entry.remove(id)
		if len(entry.ids) > 0 {
			kept = append(kept, entry)
		}
	}
	f.adds = kept

	f.tombstone(id)
}

// getByValue finds the entry asserting an equal value. Equality is on the
// canonical JSON encoding, so payloads that decode differently but encode
// identically union their ids.
func (f *FieldState) getByValue(value any) *AddEntry {
	key := valueKey(value)
	for _, entry := range f.adds {
		if valueKey(entry.value) == key {
			return entry
		}
	}
	return nil
}

func (f *FieldState) isTombstoned(id string) bool {
	for _, existing := range f.removes {
		if existing == id {
			return true
		}
	}
	return false
}

func (f *FieldState) tombstone(id string) {
	if f.isTombstoned(id) {
		return
	}
	f.removes = append(f.removes, id)
}

func (f *FieldState) Serialize() SerializedField {
	out := SerializedField{
		Adds:    make([]SerializedAdd, 0, len(f.adds)),
		Removes: make([]string, 0, len(f.removes)),
	}
	for _, entry := range f.adds {
		ids := make([]string, len(entry.ids))
		copy(ids, entry.ids)
		out.Adds = append(out.Adds, SerializedAdd{IDs: ids, Value: entry.value})
	}
	out.Removes = append(out.Removes, f.removes...)
	return out
}

func valueKey(value any) string {
	b, err := json.Marshal(value)
	if err != nil {
		return ""
	}
	return string(b)
}
