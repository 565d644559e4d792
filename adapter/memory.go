package adapter

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/flowbase/repl-engine/value"
)

// MemoryAdapter is an in-memory reference implementation of Adapter,
// used by the test suite and for local development without a real
// database. It tracks a single flat table namespace keyed by a
// synthetic primary key column "k" for simplicity; real engines are
// expected to be far richer, but the capability surface exercised by
// the coordinator is identical.
type MemoryAdapter struct {
	mu           sync.Mutex
	connected    bool
	failPing     bool
	failExecuteN int                         // test hook: remaining Execute calls to fail with ConnectionLost
	delay        func(op, statement string) // test hook, called before execution
	tables       map[string]map[string]map[string]value.Value
	seq          int64
}

// NewMemoryAdapter returns a disconnected MemoryAdapter ready for Connect.
func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{tables: make(map[string]map[string]map[string]value.Value)}
}

// SetDelayHook installs a function invoked synchronously before every
// Execute/FetchOne/FetchAll, letting tests simulate slow or blocked
// adapters.
func (m *MemoryAdapter) SetDelayHook(fn func(op, statement string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = fn
}

// SetFailPing forces Ping (and Connect) to report ConnectionLost,
// simulating a broken socket.
func (m *MemoryAdapter) SetFailPing(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failPing = fail
}

// SetFailExecuteCount makes the next n calls to Execute fail with
// ConnectionLost, as if the connection dropped mid-statement, then let
// calls through normally again. The adapter otherwise stays connected
// (IsConnected/Ping are unaffected), simulating a transient fault on the
// write path rather than a full socket loss.
func (m *MemoryAdapter) SetFailExecuteCount(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failExecuteN = n
}

func (m *MemoryAdapter) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failPing {
		return newErr("connect", KindConnectionLost, fmt.Errorf("simulated socket failure"))
	}
	m.connected = true
	return nil
}

func (m *MemoryAdapter) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
	return nil
}

func (m *MemoryAdapter) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MemoryAdapter) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failPing || !m.connected {
		return newErr("ping", KindConnectionLost, fmt.Errorf("adapter unreachable"))
	}
	return nil
}

func (m *MemoryAdapter) runDelayHook(op, statement string) {
	m.mu.Lock()
	hook := m.delay
	m.mu.Unlock()
	if hook != nil {
		hook(op, statement)
	}
}

// Execute is a deliberately tiny interpreter for a handful of write
// statement shapes:
//   INSERT INTO t(k,v) VALUES(?, ?)
//   UPDATE t SET v=? WHERE k=?
//   DELETE FROM t WHERE k=?
// (FetchAll serves the read shape SELECT * FROM t WHERE k=?.)
// It is not a SQL engine; anything else, SELECT included, is accepted
// and treated as a no-op EXECUTE that affects zero rows, the same
// tolerant fallback a real Adapter applies to a statement it cannot
// classify.
func (m *MemoryAdapter) Execute(ctx context.Context, statement string, params []value.Value) (int64, error) {
	m.runDelayHook("execute", statement)
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return 0, newErr("execute", KindConnectionLost, fmt.Errorf("not connected"))
	}
	if m.failExecuteN > 0 {
		m.failExecuteN--
		return 0, newErr("execute", KindConnectionLost, fmt.Errorf("simulated mid-statement connection drop"))
	}

	trimmed := strings.TrimSpace(statement)
	upper := strings.ToUpper(trimmed)
	table := extractTable(trimmed)

	switch {
	case strings.HasPrefix(upper, "INSERT"):
		if table == "" {
			return 0, newErr("execute", KindSyntaxError, fmt.Errorf("cannot determine target table"))
		}
		row := rowFromParams(params)
		key, ok := row["k"]
		if !ok {
			return 0, newErr("execute", KindSyntaxError, fmt.Errorf("insert requires a k column"))
		}
		tbl := m.tableLocked(table)
		keyStr := key.String()
		if _, exists := tbl[keyStr]; exists {
			return 0, newErr("execute", KindConstraintViolation, fmt.Errorf("duplicate key %s", keyStr))
		}
		tbl[keyStr] = row
		m.seq++
		return 1, nil

	case strings.HasPrefix(upper, "UPDATE"):
		tbl := m.tableLocked(table)
		key, ok := lastParamAsKey(params)
		if !ok {
			return 0, nil
		}
		keyStr := key.String()
		row, exists := tbl[keyStr]
		if !exists {
			return 0, nil
		}
		if len(params) > 0 {
			row["v"] = params[0]
		}
		tbl[keyStr] = row
		return 1, nil

	case strings.HasPrefix(upper, "DELETE"):
		tbl := m.tableLocked(table)
		key, ok := lastParamAsKey(params)
		if !ok {
			return 0, nil
		}
		keyStr := key.String()
		if _, exists := tbl[keyStr]; !exists {
			return 0, nil
		}
		delete(tbl, keyStr)
		return 1, nil

	default:
		return 0, nil
	}
}

func (m *MemoryAdapter) FetchOne(ctx context.Context, statement string, params []value.Value) (Row, error) {
	rows, err := m.FetchAll(ctx, statement, params)
	if err != nil {
		return Row{}, err
	}
	if len(rows) == 0 {
		return Row{}, newErr("fetch_one", KindOther, fmt.Errorf("no rows"))
	}
	return rows[0], nil
}

func (m *MemoryAdapter) FetchAll(ctx context.Context, statement string, params []value.Value) ([]Row, error) {
	m.runDelayHook("fetch", statement)
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return nil, newErr("fetch", KindConnectionLost, fmt.Errorf("not connected"))
	}

	table := extractTable(statement)
	tbl := m.tableLocked(table)

	var keyFilter *value.Value
	if k, ok := lastParamAsKey(params); ok {
		keyFilter = &k
	}

	keys := make([]string, 0, len(tbl))
	for k := range tbl {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]Row, 0, len(keys))
	for _, k := range keys {
		if keyFilter != nil && k != keyFilter.String() {
			continue
		}
		row := tbl[k]
		cols := make([]string, 0, len(row))
		for c := range row {
			cols = append(cols, c)
		}
		sort.Strings(cols)
		out = append(out, Row{Columns: cols, Values: copyMap(row)})
	}
	return out, nil
}

func (m *MemoryAdapter) Begin(ctx context.Context) (Tx, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return nil, newErr("begin", KindConnectionLost, fmt.Errorf("not connected"))
	}
	return &memoryTx{adapter: m, staged: deepCopyTables(m.tables)}, nil
}

func (m *MemoryAdapter) tableLocked(name string) map[string]map[string]value.Value {
	tbl, ok := m.tables[name]
	if !ok {
		tbl = make(map[string]map[string]value.Value)
		m.tables[name] = tbl
	}
	return tbl
}

// Snapshot returns a deep copy of a table's rows, keyed by the row's "k"
// column, for test assertions.
func (m *MemoryAdapter) Snapshot(table string) map[string]map[string]value.Value {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]map[string]value.Value)
	for k, row := range m.tables[table] {
		out[k] = copyMap(row)
	}
	return out
}

func copyMap(m map[string]value.Value) map[string]value.Value {
	out := make(map[string]value.Value, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func rowFromParams(params []value.Value) map[string]value.Value {
	// Convention for the worked examples: two params (k, v).
	row := make(map[string]value.Value)
	if len(params) > 0 {
		row["k"] = params[0]
	}
	if len(params) > 1 {
		row["v"] = params[1]
	}
	return row
}

func lastParamAsKey(params []value.Value) (value.Value, bool) {
	if len(params) == 0 {
		return value.Null(), false
	}
	return params[len(params)-1], true
}

func extractTable(statement string) string {
	upper := strings.ToUpper(statement)
	fields := strings.Fields(statement)
	for i, f := range fields {
		up := strings.ToUpper(f)
		if (up == "INTO" || up == "FROM") && i+1 < len(fields) {
			name := fields[i+1]
			if idx := strings.IndexByte(name, '('); idx >= 0 {
				name = name[:idx]
			}
			return strings.Trim(name, "`\"'")
		}
	}
	if strings.HasPrefix(upper, "UPDATE") && len(fields) > 1 {
		return fields[1]
	}
	return ""
}

// memoryTx gives the transaction a private snapshot of every table,
// taken at Begin. Execute/FetchOne/FetchAll all operate against that
// snapshot, so reads inside the transaction see its own uncommitted
// writes and nothing committed outside it after Begin. Commit installs
// the snapshot as the adapter's table set; Rollback just discards it,
// so a rolled-back transaction's writes never become visible anywhere.
type memoryTx struct {
	adapter    *MemoryAdapter
	staged     map[string]map[string]map[string]value.Value
	rolledBack bool
	committed  bool
}

func deepCopyTables(tables map[string]map[string]map[string]value.Value) map[string]map[string]map[string]value.Value {
	out := make(map[string]map[string]map[string]value.Value, len(tables))
	for name, tbl := range tables {
		rows := make(map[string]map[string]value.Value, len(tbl))
		for k, row := range tbl {
			rows[k] = copyMap(row)
		}
		out[name] = rows
	}
	return out
}

func (t *memoryTx) Execute(ctx context.Context, statement string, params []value.Value) (int64, error) {
	shadow := &MemoryAdapter{tables: t.staged, connected: true}
	return shadow.Execute(ctx, statement, params)
}

func (t *memoryTx) FetchOne(ctx context.Context, statement string, params []value.Value) (Row, error) {
	shadow := &MemoryAdapter{tables: t.staged, connected: true}
	return shadow.FetchOne(ctx, statement, params)
}

func (t *memoryTx) FetchAll(ctx context.Context, statement string, params []value.Value) ([]Row, error) {
	shadow := &MemoryAdapter{tables: t.staged, connected: true}
	return shadow.FetchAll(ctx, statement, params)
}

func (t *memoryTx) Commit() error {
	if t.rolledBack {
		return fmt.Errorf("transaction already rolled back")
	}
	t.adapter.mu.Lock()
	defer t.adapter.mu.Unlock()
	t.adapter.tables = t.staged
	t.committed = true
	return nil
}

func (t *memoryTx) Rollback() error {
	t.rolledBack = true
	t.staged = nil
	return nil
}
