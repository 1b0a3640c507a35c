package domain

import "time"

// Kind identifies the subscription capability an event was produced for.
type Kind string

const (
	// KindNames is a name-list change feed.
	KindNames Kind = "names"
	// KindQueryLatest is a query feed carrying only the latest result table.
	KindQueryLatest Kind = "query_latest"
	// KindQueryAll is a query feed carrying the cumulative result table.
	KindQueryAll Kind = "query_all"
	// KindTags is a name-list feed with per-item timestamp and status.
	KindTags Kind = "tags"
)

// UpdateTypeUpdate is the update type carried by query events.
const UpdateTypeUpdate = "update"

// Event is the unit delivered to a streaming consumer.
//
// Every variant carries an optional in-band error message; a nil message
// means the update is well formed.
type Event interface {
	// Kind reports the capability that produced the event.
	Kind() Kind
	// ErrorMessage returns the in-band error, if any.
	ErrorMessage() (string, bool)
}

// NamesEvent is a name/value change set for a name-list feed.
type NamesEvent struct {
	Names  []string `json:"names" cbor:"names"`
	Values []any    `json:"values" cbor:"values"`
	Type   string   `json:"type" cbor:"type"`
	Error  *string  `json:"error" cbor:"error"`
}

// Kind implements Event.
func (e *NamesEvent) Kind() Kind { return KindNames }

// ErrorMessage implements Event.
func (e *NamesEvent) ErrorMessage() (string, bool) { return deref(e.Error) }

// QueryEvent carries a query result table.
type QueryEvent struct {
	Values Table   `json:"values" cbor:"values"`
	Type   string  `json:"type" cbor:"type"`
	Error  *string `json:"error" cbor:"error"`

	// Cumulative is true when Values holds every row matched so far rather
	// than only the latest change.
	Cumulative bool `json:"-" cbor:"-"`
}

// Kind implements Event.
func (e *QueryEvent) Kind() Kind {
	if e.Cumulative {
		return KindQueryAll
	}
	return KindQueryLatest
}

// ErrorMessage implements Event.
func (e *QueryEvent) ErrorMessage() (string, bool) { return deref(e.Error) }

// TagEvent is a typed tag set with per-item enrichment.
type TagEvent struct {
	Tags  []Tag   `json:"tags" cbor:"tags"`
	Type  string  `json:"type" cbor:"type"`
	Error *string `json:"error" cbor:"error"`
}

// Kind implements Event.
func (e *TagEvent) Kind() Kind { return KindTags }

// ErrorMessage implements Event.
func (e *TagEvent) ErrorMessage() (string, bool) { return deref(e.Error) }

// Tag is one enriched item of a TagEvent. Timestamp and Status are nil when
// the corresponding lookup failed.
type Tag struct {
	Name      string     `json:"name" cbor:"name"`
	Value     any        `json:"value" cbor:"value"`
	Timestamp *time.Time `json:"timestamp" cbor:"timestamp"`
	Status    *string    `json:"status" cbor:"status"`
}

// Table is a query result set.
type Table struct {
	Columns []string `json:"columns" cbor:"columns"`
	Rows    [][]any  `json:"rows" cbor:"rows"`
}

// Len returns the number of rows.
func (t Table) Len() int { return len(t.Rows) }

// ErrorString converts an error into the in-band representation used by
// events: nil for no error, otherwise a pointer to its message.
func ErrorString(err error) *string {
	if err == nil {
		return nil
	}
	msg := err.Error()
	return &msg
}

func deref(s *string) (string, bool) {
	if s == nil {
		return "", false
	}
	return *s, true
}
