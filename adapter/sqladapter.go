package adapter

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/flowbase/repl-engine/value"
	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
)

// SQLAdapter implements Adapter against a MySQL/MariaDB backing store
// using jmoiron/sqlx over go-sql-driver/mysql. It is the one concrete
// engine this repository ships; other engines are expected to implement
// the same Adapter interface from their own drivers.
type SQLAdapter struct {
	dsn string
	db  *sqlx.DB
}

// NewSQLAdapter returns an adapter bound to dsn (a go-sql-driver/mysql
// data source name); Connect must be called before use.
func NewSQLAdapter(dsn string) *SQLAdapter {
	return &SQLAdapter{dsn: dsn}
}

func (a *SQLAdapter) Connect(ctx context.Context) error {
	db, err := sqlx.Open("mysql", a.dsn)
	if err != nil {
		return classifyMySQLErr("connect", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return classifyMySQLErr("connect", err)
	}
	a.db = db
	return nil
}

func (a *SQLAdapter) Disconnect(ctx context.Context) error {
	if a.db == nil {
		return nil
	}
	err := a.db.Close()
	a.db = nil
	return err
}

func (a *SQLAdapter) IsConnected() bool {
	return a.db != nil
}

func (a *SQLAdapter) Ping(ctx context.Context) error {
	if a.db == nil {
		return newErr("ping", KindConnectionLost, fmt.Errorf("adapter not connected"))
	}
	if err := a.db.PingContext(ctx); err != nil {
		return classifyMySQLErr("ping", err)
	}
	return nil
}

func (a *SQLAdapter) Execute(ctx context.Context, statement string, params []value.Value) (int64, error) {
	if a.db == nil {
		return 0, newErr("execute", KindConnectionLost, fmt.Errorf("adapter not connected"))
	}
	res, err := a.db.ExecContext(ctx, statement, nativeArgs(params)...)
	if err != nil {
		return 0, classifyMySQLErr("execute", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, classifyMySQLErr("execute", err)
	}
	return n, nil
}

func (a *SQLAdapter) FetchOne(ctx context.Context, statement string, params []value.Value) (Row, error) {
	rows, err := a.FetchAll(ctx, statement, params)
	if err != nil {
		return Row{}, err
	}
	if len(rows) == 0 {
		return Row{}, newErr("fetch_one", KindOther, sql.ErrNoRows)
	}
	return rows[0], nil
}

func (a *SQLAdapter) FetchAll(ctx context.Context, statement string, params []value.Value) ([]Row, error) {
	if a.db == nil {
		return nil, newErr("fetch", KindConnectionLost, fmt.Errorf("adapter not connected"))
	}
	rows, err := a.db.QueryxContext(ctx, statement, nativeArgs(params)...)
	if err != nil {
		return nil, classifyMySQLErr("fetch", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, classifyMySQLErr("fetch", err)
	}

	var out []Row
	for rows.Next() {
		raw := make(map[string]interface{})
		if err := rows.MapScan(raw); err != nil {
			return nil, classifyMySQLErr("fetch", err)
		}
		vals := make(map[string]value.Value, len(raw))
		for k, v := range raw {
			vals[k] = value.FromNative(v)
		}
		out = append(out, Row{Columns: cols, Values: vals})
	}
	if err := rows.Err(); err != nil {
		return nil, classifyMySQLErr("fetch", err)
	}
	return out, nil
}

func (a *SQLAdapter) Begin(ctx context.Context) (Tx, error) {
	if a.db == nil {
		return nil, newErr("begin", KindConnectionLost, fmt.Errorf("adapter not connected"))
	}
	tx, err := a.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, classifyMySQLErr("begin", err)
	}
	return &sqlTx{tx: tx}, nil
}

type sqlTx struct {
	tx *sqlx.Tx
}

func (t *sqlTx) Execute(ctx context.Context, statement string, params []value.Value) (int64, error) {
	res, err := t.tx.ExecContext(ctx, statement, nativeArgs(params)...)
	if err != nil {
		return 0, classifyMySQLErr("execute", err)
	}
	return res.RowsAffected()
}

func (t *sqlTx) FetchOne(ctx context.Context, statement string, params []value.Value) (Row, error) {
	rows, err := t.FetchAll(ctx, statement, params)
	if err != nil {
		return Row{}, err
	}
	if len(rows) == 0 {
		return Row{}, newErr("fetch_one", KindOther, sql.ErrNoRows)
	}
	return rows[0], nil
}

func (t *sqlTx) FetchAll(ctx context.Context, statement string, params []value.Value) ([]Row, error) {
	rows, err := t.tx.QueryxContext(ctx, statement, nativeArgs(params)...)
	if err != nil {
		return nil, classifyMySQLErr("fetch", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, classifyMySQLErr("fetch", err)
	}
	var out []Row
	for rows.Next() {
		raw := make(map[string]interface{})
		if err := rows.MapScan(raw); err != nil {
			return nil, classifyMySQLErr("fetch", err)
		}
		vals := make(map[string]value.Value, len(raw))
		for k, v := range raw {
			vals[k] = value.FromNative(v)
		}
		out = append(out, Row{Columns: cols, Values: vals})
	}
	return out, rows.Err()
}

func (t *sqlTx) Commit() error   { return t.tx.Commit() }
func (t *sqlTx) Rollback() error { return t.tx.Rollback() }

func nativeArgs(params []value.Value) []interface{} {
	args := make([]interface{}, len(params))
	for i, p := range params {
		args[i] = p.Native()
	}
	return args
}

// classifyMySQLErr maps a go-sql-driver/mysql error into the adapter
// error taxonomy. It does not attempt to understand every driver
// error; unrecognized cases fall back to KindOther.
func classifyMySQLErr(op string, err error) *Error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return newErr(op, KindTimeout, err)
	}
	if errors.Is(err, mysql.ErrInvalidConn) || errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) || errors.Is(err, io.EOF) {
		return newErr(op, KindConnectionLost, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return newErr(op, KindTimeout, err)
		}
		return newErr(op, KindConnectionLost, err)
	}

	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		switch {
		case mysqlErr.Number == 1062 || mysqlErr.Number == 1451 || mysqlErr.Number == 1452:
			return newErr(op, KindConstraintViolation, err)
		case mysqlErr.Number >= 1046 && mysqlErr.Number <= 1065:
			return newErr(op, KindSyntaxError, err)
		case mysqlErr.Number == 2006 || mysqlErr.Number == 2013:
			return newErr(op, KindConnectionLost, err)
		}
	}
	if strings.Contains(err.Error(), "syntax") {
		return newErr(op, KindSyntaxError, err)
	}
	return newErr(op, KindOther, err)
}
