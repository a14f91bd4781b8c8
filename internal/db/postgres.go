package db

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/rpattn/fleetquery/internal/domain"
)

// PostgresDialer dials Postgres fleet members with pgx.
type PostgresDialer struct{}

// NewPostgresDialer creates a PostgresDialer.
func NewPostgresDialer() *PostgresDialer {
	return &PostgresDialer{}
}

func (d *PostgresDialer) Dial(ctx context.Context, target Target) (Conn, error) {
	port := target.Server.Port
	if port == 0 {
		port = 5432
	}
	sslmode := "disable"
	if target.Encrypt {
		sslmode = "require"
	}
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(target.User), url.QueryEscape(target.Password),
		target.Server.Host, port, url.PathEscape(target.Database), sslmode)

	config, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres config: %w", err)
	}
	config.ConnectTimeout = target.ConnectTimeout
	config.RuntimeParams["application_name"] = "fleetquery"
	config.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	conn, err := pgx.ConnectConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", target.Server.Host, err)
	}
	return &pgConn{conn: conn}, nil
}

type pgConn struct {
	conn *pgx.Conn
}

func (c *pgConn) Query(ctx context.Context, statement string) (Rows, error) {
	rows, err := c.conn.Query(ctx, statement)
	if err != nil {
		return nil, err
	}
	fields := rows.FieldDescriptions()
	columns := make([]string, len(fields))
	for idx, field := range fields {
		columns[idx] = field.Name
		if columns[idx] == "" {
			columns[idx] = "column" + strconv.Itoa(idx+1)
		}
	}
	return &pgRows{rows: rows, columns: columns}, nil
}

func (c *pgConn) Close() error {
	ctx := context.Background()
	return c.conn.Close(ctx)
}

type pgRows struct {
	rows    pgx.Rows
	columns []string
}

func (r *pgRows) Columns() []string {
	return r.columns
}

func (r *pgRows) Next() bool {
	return r.rows.Next()
}

func (r *pgRows) Values() ([]domain.Value, error) {
	raw, err := r.rows.Values()
	if err != nil {
		return nil, fmt.Errorf("failed to decode row: %w", err)
	}
	values := make([]domain.Value, len(raw))
	for idx, cell := range raw {
		values[idx] = ToValue(cell)
	}
	return values, nil
}

func (r *pgRows) Err() error {
	return r.rows.Err()
}

func (r *pgRows) Close() {
	r.rows.Close()
}
