package event

import (
	"testing"

	"github.com/flowbase/repl-engine/value"
	"github.com/stretchr/testify/assert"
)

func TestClassifyLeadingKeyword(t *testing.T) {
	cases := []struct {
		statement string
		kind      Kind
		table     string
	}{
		{"INSERT INTO users(k,v) VALUES(?, ?)", KindInsert, "users"},
		{"  insert into users values(?)", KindInsert, "users"},
		{"UPDATE accounts SET v=? WHERE k=?", KindUpdate, "accounts"},
		{"DELETE FROM sessions WHERE k=?", KindDelete, "sessions"},
		{"SELECT * FROM widgets WHERE k=?", KindExecute, "widgets"},
		{"CREATE TABLE foo (id int)", KindDDL, "foo"},
		{"ALTER TABLE bar ADD COLUMN x int", KindDDL, "bar"},
		{"DROP TABLE baz", KindDDL, "baz"},
		{"", KindExecute, ""},
		{"CALL some_proc()", KindExecute, ""},
	}
	for _, c := range cases {
		kind, table := Classify(c.statement)
		assert.Equal(t, c.kind, kind, c.statement)
		assert.Equal(t, c.table, table, c.statement)
	}
}

func TestIDGeneratorMonotonic(t *testing.T) {
	g := NewIDGenerator()
	assert.Equal(t, int64(1), g.Peek())
	assert.Equal(t, int64(1), g.Next())
	assert.Equal(t, int64(2), g.Next())
	assert.Equal(t, int64(3), g.Peek())
}

func TestBuilderStampsEventsInOrder(t *testing.T) {
	g := NewIDGenerator()
	b := NewBuilder(g, "primary-1")

	e1 := b.NewFromStatement("INSERT INTO t(k,v) VALUES(?, ?)", []value.Value{value.Int(1), value.Text("a")})
	e2 := b.NewFromStatement("INSERT INTO t(k,v) VALUES(?, ?)", []value.Value{value.Int(2), value.Text("b")})

	assert.Less(t, e1.ID, e2.ID)
	assert.Equal(t, "primary-1", e1.OriginReplica)
	assert.Equal(t, KindInsert, e1.Kind)
	assert.Equal(t, "t", e1.Table)
	assert.NotEmpty(t, e1.CorrelationID)
	assert.NotEqual(t, e1.CorrelationID, e2.CorrelationID)
}

func TestWithOriginKeepsSharedGenerator(t *testing.T) {
	g := NewIDGenerator()
	b := NewBuilder(g, "primary-1")
	b.NewFromStatement("SELECT 1", nil)

	promoted := b.WithOrigin("replica-1")
	e := promoted.NewFromStatement("SELECT 1", nil)
	assert.Equal(t, "replica-1", e.OriginReplica)
	assert.Equal(t, int64(2), e.ID)
}
