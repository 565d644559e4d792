// Package event implements the immutable, strictly ordered record of a
// single write applied on the primary: the ReplicationEvent.
package event

import (
	"strings"
	"sync/atomic"
	"time"

	"github.com/flowbase/repl-engine/value"
	"github.com/google/uuid"
)

// Kind classifies a ReplicationEvent by the leading token of its statement.
type Kind int

const (
	KindInsert Kind = iota
	KindUpdate
	KindDelete
	KindExecute
	KindDDL
)

func (k Kind) String() string {
	switch k {
	case KindInsert:
		return "INSERT"
	case KindUpdate:
		return "UPDATE"
	case KindDelete:
		return "DELETE"
	case KindDDL:
		return "DDL"
	default:
		return "EXECUTE"
	}
}

// Event is an immutable record of one write applied on the primary,
// replayable on a replica. Never mutated after construction.
type Event struct {
	ID             int64
	WallTime       time.Time
	Monotonic      int64 // nanoseconds since an arbitrary epoch, for ordering diagnostics
	Kind           Kind
	Table          string
	Statement      string
	Parameters     []value.Value
	PrimaryKey     string
	OriginReplica  string
	CorrelationID  string
}

// IDGenerator produces strictly increasing, never-reused event ids,
// unique within one coordinator instance.
type IDGenerator struct {
	next int64
}

// NewIDGenerator returns a generator whose first Next() call yields 1.
func NewIDGenerator() *IDGenerator {
	return &IDGenerator{next: 0}
}

func (g *IDGenerator) Next() int64 {
	return atomic.AddInt64(&g.next, 1)
}

// Peek reports the next id that would be handed out, without consuming it.
func (g *IDGenerator) Peek() int64 {
	return atomic.LoadInt64(&g.next) + 1
}

// Builder constructs Events with fresh, strictly increasing ids and the
// coordinator-recorded wall time.
type Builder struct {
	ids    *IDGenerator
	origin string
	clock  func() time.Time
}

func NewBuilder(ids *IDGenerator, origin string) *Builder {
	return &Builder{ids: ids, origin: origin, clock: time.Now}
}

// WithOrigin returns a Builder sharing the same id generator but
// attributing subsequent events to a new origin, used when promotion
// changes which replica is primary.
func (b *Builder) WithOrigin(origin string) *Builder {
	return &Builder{ids: b.ids, origin: origin, clock: b.clock}
}

// NewFromStatement classifies kind by the leading token of the trimmed
// statement (case-insensitive) and extracts a best-effort table name.
// Table extraction is heuristic and may be empty; callers must tolerate
// that.
func (b *Builder) NewFromStatement(statement string, params []value.Value) Event {
	kind, table := Classify(statement)
	return Event{
		ID:            b.ids.Next(),
		WallTime:      b.clock(),
		Monotonic:     time.Now().UnixNano(),
		Kind:          kind,
		Table:         table,
		Statement:     statement,
		Parameters:    params,
		OriginReplica: b.origin,
		CorrelationID: uuid.NewString(),
	}
}

// Classify implements the shallow leading-keyword classification rule
// from the spec: it must never attempt to fully parse the statement.
func Classify(statement string) (Kind, string) {
	trimmed := strings.TrimSpace(statement)
	if trimmed == "" {
		return KindExecute, ""
	}
	fields := strings.Fields(trimmed)
	lead := strings.ToUpper(fields[0])

	switch lead {
	case "INSERT":
		return KindInsert, tableAfter(fields, "INTO")
	case "UPDATE":
		return KindUpdate, tableAtIndex(fields, 1)
	case "DELETE":
		return KindDelete, tableAfter(fields, "FROM")
	case "SELECT":
		return KindExecute, tableAfter(fields, "FROM")
	case "CREATE", "ALTER", "DROP":
		return KindDDL, tableNameForDDL(fields)
	default:
		return KindExecute, ""
	}
}

func tableAfter(fields []string, marker string) string {
	for i, f := range fields {
		if strings.EqualFold(f, marker) && i+1 < len(fields) {
			return cleanIdent(fields[i+1])
		}
	}
	return ""
}

func tableAtIndex(fields []string, idx int) string {
	if idx < len(fields) {
		return cleanIdent(fields[idx])
	}
	return ""
}

func tableNameForDDL(fields []string) string {
	// CREATE [TABLE|INDEX ...] name / ALTER TABLE name / DROP TABLE name
	for i, f := range fields {
		up := strings.ToUpper(f)
		if up == "TABLE" && i+1 < len(fields) {
			return cleanIdent(fields[i+1])
		}
	}
	return ""
}

func cleanIdent(s string) string {
	s = strings.TrimRight(s, "(,;")
	s = strings.Trim(s, "`\"'")
	if idx := strings.IndexByte(s, '('); idx >= 0 {
		s = s[:idx]
	}
	return s
}
