package crdt

// Ledger replays one participant's full operation log from empty state.
// The raw log is the durable source of truth; resolved state is always
// rederived, never persisted.
//
// Fields are kept in first-seen order, matching the order the summary is
// assembled in.
type Ledger struct {
	senderID string
	fields   []*FieldState
}

// BuildLedger left-folds the ordered operation log for one sender. The
// first operation on a name fixes that field's merge type; a later
// operation on the same name with a different type fails the whole build
// rather than being silently misapplied.
func BuildLedger(senderID string, ops []Operation) (*Ledger, error) {
	l := &Ledger{senderID: senderID}
	for _, op := range ops {
		if err := l.Apply(op); err != nil {
			return nil, err
		}
	}
	return l, nil
}

func (l *Ledger) SenderID() string { return l.senderID }

func (l *Ledger) Apply(op Operation) error {
	field := l.field(op.Name)
	if field == nil {
		field = NewFieldState(op.Name, op.Type)
		l.fields = append(l.fields, field)
	}
	return field.Apply(op)
}

func (l *Ledger) field(name string) *FieldState {
	for _, f := range l.fields {
		if f.name == name {
			return f
		}
	}
	return nil
}

// Serialize resolves every field the participant has touched.
func (l *Ledger) Serialize() map[string]SerializedField {
	out := make(map[string]SerializedField, len(l.fields))
	for _, f := range l.fields {
		out[f.name] = f.Serialize()
	}
	return out
}

// Summary is the multi-participant response summary document:
// senderId -> fieldName -> resolved field state.
type Summary map[string]map[string]SerializedField

// ToResponseSummary independently replays every participant's log and
// serializes the result. Participants never interact here: the conflicts
// being resolved are within one participant's own repeated or out-of-order
// submissions, not between participants.
func ToResponseSummary(responses map[string][]Operation) (Summary, error) {
	summary := make(Summary, len(responses))
	for senderID, ops := range responses {
		ledger, err := BuildLedger(senderID, ops)
		if err != nil {
			return nil, err
		}
		summary[senderID] = ledger.Serialize()
	}
	return summary, nil
}
