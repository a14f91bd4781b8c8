package db

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/rpattn/fleetquery/internal/domain"

	_ "github.com/mattn/go-sqlite3"
	_ "github.com/microsoft/go-mssqldb"
)

// SQLDialer opens database/sql connections for drivers registered with the
// standard library registry.
type SQLDialer struct {
	driverName string
	dsn        func(Target) string
}

// NewSQLServerDialer dials SQL Server through go-mssqldb.
func NewSQLServerDialer() *SQLDialer {
	return &SQLDialer{driverName: "sqlserver", dsn: sqlServerDSN}
}

// NewSQLiteDialer dials a SQLite file. The server host is the file path.
func NewSQLiteDialer() *SQLDialer {
	return &SQLDialer{driverName: "sqlite3", dsn: sqliteDSN}
}

func sqlServerDSN(target Target) string {
	port := target.Server.Port
	if port == 0 {
		port = 1433
	}
	query := url.Values{}
	if target.Database != "" {
		query.Set("database", target.Database)
	}
	if target.ConnectTimeout > 0 {
		query.Set("dial timeout", strconv.Itoa(int(target.ConnectTimeout.Seconds())))
		query.Set("connection timeout", strconv.Itoa(int(target.ConnectTimeout.Seconds())))
	}
	query.Set("encrypt", strconv.FormatBool(target.Encrypt))
	query.Set("TrustServerCertificate", strconv.FormatBool(target.TrustServerCertificate))
	query.Set("app name", "fleetquery")

	u := url.URL{
		Scheme:   "sqlserver",
		User:     url.UserPassword(target.User, target.Password),
		Host:     net.JoinHostPort(target.Server.Host, strconv.Itoa(port)),
		RawQuery: query.Encode(),
	}
	return u.String()
}

func sqliteDSN(target Target) string {
	return fmt.Sprintf("file:%s?mode=ro&_busy_timeout=%d", target.Server.Host, target.ConnectTimeout.Milliseconds())
}

func (d *SQLDialer) Dial(ctx context.Context, target Target) (Conn, error) {
	pool, err := sql.Open(d.driverName, d.dsn(target))
	if err != nil {
		return nil, fmt.Errorf("failed to open %s connection: %w", d.driverName, err)
	}
	pool.SetMaxOpenConns(1)

	dialCtx := ctx
	if target.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, target.ConnectTimeout)
		defer cancel()
	}
	if err := pool.PingContext(dialCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to %s: %w", target.Server.Host, err)
	}
	return &sqlConn{db: pool}, nil
}

type sqlConn struct {
	db *sql.DB
}

func (c *sqlConn) Query(ctx context.Context, statement string) (Rows, error) {
	rows, err := c.db.QueryContext(ctx, statement)
	if err != nil {
		return nil, err
	}
	columns, err := rows.Columns()
	if err != nil {
		rows.Close()
		return nil, fmt.Errorf("failed to read columns: %w", err)
	}
	types, err := rows.ColumnTypes()
	if err != nil {
		rows.Close()
		return nil, fmt.Errorf("failed to read column types: %w", err)
	}
	typeNames := make([]string, len(types))
	for idx, columnType := range types {
		typeNames[idx] = strings.ToUpper(columnType.DatabaseTypeName())
	}
	return &sqlRows{rows: rows, columns: columns, typeNames: typeNames}, nil
}

func (c *sqlConn) Close() error {
	return c.db.Close()
}

type sqlRows struct {
	rows      *sql.Rows
	columns   []string
	typeNames []string
}

func (r *sqlRows) Columns() []string {
	return r.columns
}

func (r *sqlRows) Next() bool {
	return r.rows.Next()
}

func (r *sqlRows) Values() ([]domain.Value, error) {
	raw := make([]any, len(r.columns))
	dest := make([]any, len(r.columns))
	for idx := range raw {
		dest[idx] = &raw[idx]
	}
	if err := r.rows.Scan(dest...); err != nil {
		return nil, fmt.Errorf("failed to scan row: %w", err)
	}
	values := make([]domain.Value, len(raw))
	for idx, cell := range raw {
		values[idx] = ToValueTyped(cell, r.typeNames[idx])
	}
	return values, nil
}

func (r *sqlRows) Err() error {
	return r.rows.Err()
}

func (r *sqlRows) Close() {
	r.rows.Close()
}
