package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rpattn/fleetquery/internal/domain"
)

// DefaultDriver is used for servers that do not name a driver.
const DefaultDriver = "sqlserver"

// Target is everything needed to open one connection to one server.
type Target struct {
	Server                 domain.ServerDescriptor
	Database               string
	User                   string
	Password               string
	ConnectTimeout         time.Duration
	Encrypt                bool
	TrustServerCertificate bool
}

// Rows streams a result set one row at a time.
type Rows interface {
	Columns() []string
	Next() bool
	Values() ([]domain.Value, error)
	Err() error
	Close()
}

// Conn is a single open connection. It is not safe for concurrent use.
type Conn interface {
	Query(ctx context.Context, statement string) (Rows, error)
	Close() error
}

// Dialer opens connections.
type Dialer interface {
	Dial(ctx context.Context, target Target) (Conn, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, target Target) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context, target Target) (Conn, error) {
	return f(ctx, target)
}

// MultiDialer routes a target to the dialer registered for its driver.
type MultiDialer struct {
	dialers map[string]Dialer
}

// NewMultiDialer returns a MultiDialer with the built-in drivers registered.
func NewMultiDialer() *MultiDialer {
	m := &MultiDialer{dialers: map[string]Dialer{}}
	m.Register("sqlserver", NewSQLServerDialer())
	m.Register("postgres", NewPostgresDialer())
	m.Register("sqlite", NewSQLiteDialer())
	return m
}

// Register adds or replaces the dialer for driver.
func (m *MultiDialer) Register(driver string, dialer Dialer) {
	m.dialers[strings.ToLower(driver)] = dialer
}

func (m *MultiDialer) Dial(ctx context.Context, target Target) (Conn, error) {
	driver := strings.ToLower(target.Server.Driver)
	if driver == "" {
		driver = DefaultDriver
	}
	dialer, ok := m.dialers[driver]
	if !ok {
		return nil, fmt.Errorf("no dialer registered for driver %q", driver)
	}
	return dialer.Dial(ctx, target)
}
