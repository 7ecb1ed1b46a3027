package crdt

import "errors"

// Merge strategy for a named field. Fixed by the first operation that
// touches the field; every later operation must carry the same type.
type MergeType string

const (
	FirstWriterWins        MergeType = "FWW"
	LastWriterWins         MergeType = "LWW"
	LastWriterWinsNullable MergeType = "LWWN"
	Set                    MergeType = "Set"
)

type OpKind string

const (
	OpAdd    OpKind = "add"
	OpRemove OpKind = "remove"
)

var (
	// ErrTypeMismatch: an operation carried a merge type that differs from
	// the type the field was created with.
	ErrTypeMismatch = errors.New("MERGE_TYPE_MISMATCH")
	// ErrUnknownType: the merge type tag is not one of FWW/LWW/LWWN/Set.
	ErrUnknownType = errors.New("UNKNOWN_MERGE_TYPE")
)

// Operation is a single add/remove intent against one named field.
// ID is the caller-chosen unique token for this operation instance; it is
// what makes replays idempotent, it is not a participant id.
// Value is an opaque JSON payload; the resolvers only ever compare it for
// equality, never inspect it.
type Operation struct {
	Op    OpKind    `json:"operation"`
	Type  MergeType `json:"type"`
	Name  string    `json:"name"`
	ID    string    `json:"id"`
	Value any       `json:"value,omitempty"`
}

// TaggedOperation is the bulk-import wire shape: a flat change list where
// each item still carries the participant it belongs to.
type TaggedOperation struct {
	Operation
	IdentityID string `json:"identity_id"`
}

// GroupBySender buckets a flat bulk-import list into per-participant
// operation logs, stripping the identity tag. First-seen order of the
// operations within one sender is preserved.
func GroupBySender(ops []TaggedOperation) map[string][]Operation {
	grouped := make(map[string][]Operation)
	for _, op := range ops {
		grouped[op.IdentityID] = append(grouped[op.IdentityID], op.Operation)
	}
	return grouped
}
