// Package executor runs one statement on one server and reports the outcome
// as a per-server result.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/rpattn/fleetquery/internal/credentials"
	"github.com/rpattn/fleetquery/internal/db"
	"github.com/rpattn/fleetquery/internal/domain"
)

// CancelledMessage is the error text of a server result whose request was
// cancelled.
const CancelledMessage = "query cancelled"

// ProgressLogger receives operator-facing progress lines for a request.
type ProgressLogger interface {
	Log(requestID, message string)
}

// CredentialResolver yields the credential for a server and database.
type CredentialResolver interface {
	Resolve(server domain.ServerDescriptor, database string) (credentials.Credential, error)
}

type nopLogger struct{}

func (nopLogger) Log(string, string) {}

// Executor owns no state beyond its configuration and is safe for
// concurrent use.
type Executor struct {
	dialer          db.Dialer
	credentials     CredentialResolver
	progress        ProgressLogger
	commandTimeout  time.Duration
	connectTimeout  time.Duration
	defaultDatabase string
	encrypt         bool
	trustServerCert bool
	now             func() time.Time
}

type Option func(*Executor)

func WithCommandTimeout(timeout time.Duration) Option {
	return func(e *Executor) {
		if timeout > 0 {
			e.commandTimeout = timeout
		}
	}
}

func WithConnectTimeout(timeout time.Duration) Option {
	return func(e *Executor) {
		if timeout > 0 {
			e.connectTimeout = timeout
		}
	}
}

func WithDefaultDatabase(database string) Option {
	return func(e *Executor) {
		if strings.TrimSpace(database) != "" {
			e.defaultDatabase = database
		}
	}
}

// WithTLS controls encryption of SQL Server connections.
func WithTLS(encrypt, trustServerCertificate bool) Option {
	return func(e *Executor) {
		e.encrypt = encrypt
		e.trustServerCert = trustServerCertificate
	}
}

func WithProgressLogger(progress ProgressLogger) Option {
	return func(e *Executor) {
		if progress != nil {
			e.progress = progress
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Executor) {
		if now != nil {
			e.now = now
		}
	}
}

func New(dialer db.Dialer, resolver CredentialResolver, opts ...Option) *Executor {
	e := &Executor{
		dialer:          dialer,
		credentials:     resolver,
		progress:        nopLogger{},
		commandTimeout:  180 * time.Second,
		connectTimeout:  60 * time.Second,
		defaultDatabase: "AASI",
		trustServerCert: true,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes statement against server. It always returns a result and
// never panics: cancellation of ctx yields status cancelled, every other
// failure yields status error with the failure message.
func (e *Executor) Run(ctx context.Context, server domain.ServerDescriptor, statement, database, requestID string) (result domain.ServerResult) {
	start := e.now()
	result = domain.ServerResult{Server: server.Name, Status: domain.ServerStatusRunning}

	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("[executor] panic on %s for request %s: %v", server.Name, requestID, rec)
			result = domain.ServerResult{Server: server.Name, Status: domain.ServerStatusError, Error: fmt.Sprintf("panic: %v", rec)}
			e.progress.Log(requestID, fmt.Sprintf("[%s] ERROR: %s", server.Name, result.Error))
		}
		result.ExecutionTimeMs = e.now().Sub(start).Milliseconds()
	}()

	if strings.TrimSpace(statement) == "" {
		return e.fail(result, requestID, errors.New("empty statement"))
	}
	if ctx.Err() != nil {
		return e.cancelled(result, requestID)
	}

	database = e.databaseFor(server, database)
	cred, err := e.credentials.Resolve(server, database)
	if err != nil {
		return e.fail(result, requestID, err)
	}

	e.progress.Log(requestID, fmt.Sprintf("[%s] connecting to %s (%s)", server.Name, server.Host, database))
	conn, err := e.dialer.Dial(ctx, db.Target{
		Server:                 server,
		Database:               database,
		User:                   cred.User,
		Password:               cred.Password,
		ConnectTimeout:         e.connectTimeout,
		Encrypt:                e.encrypt,
		TrustServerCertificate: e.trustServerCert,
	})
	if err != nil {
		if ctx.Err() != nil {
			return e.cancelled(result, requestID)
		}
		return e.fail(result, requestID, err)
	}
	defer func() {
		if closeErr := conn.Close(); closeErr != nil {
			log.Printf("[executor] closing connection to %s: %v", server.Name, closeErr)
		}
	}()

	cmdCtx, cancel := context.WithTimeout(ctx, e.commandTimeout)
	defer cancel()

	e.progress.Log(requestID, fmt.Sprintf("[%s] executing query", server.Name))
	data, err := e.read(cmdCtx, conn, statement)
	if err != nil {
		switch {
		case ctx.Err() != nil:
			return e.cancelled(result, requestID)
		case errors.Is(cmdCtx.Err(), context.DeadlineExceeded):
			return e.fail(result, requestID, fmt.Errorf("command timeout after %s: %w", e.commandTimeout, err))
		default:
			return e.fail(result, requestID, err)
		}
	}

	result.Status = domain.ServerStatusSuccess
	result.Rows = len(data)
	result.Data = data
	e.progress.Log(requestID, fmt.Sprintf("[%s] done: %d rows in %dms", server.Name, len(data), e.now().Sub(start).Milliseconds()))
	return result
}

func (e *Executor) read(ctx context.Context, conn db.Conn, statement string) ([]domain.Row, error) {
	rows, err := conn.Query(ctx, statement)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns := rows.Columns()
	data := []domain.Row{}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		data = append(data, domain.NewRow(columns, values))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return data, nil
}

func (e *Executor) databaseFor(server domain.ServerDescriptor, database string) string {
	if strings.TrimSpace(database) != "" {
		return database
	}
	if server.DefaultDatabase != "" {
		return server.DefaultDatabase
	}
	return e.defaultDatabase
}

func (e *Executor) fail(result domain.ServerResult, requestID string, err error) domain.ServerResult {
	result.Status = domain.ServerStatusError
	result.Error = err.Error()
	result.Data = nil
	e.progress.Log(requestID, fmt.Sprintf("[%s] ERROR: %s", result.Server, result.Error))
	log.Printf("[executor] %s failed for request %s: %v", result.Server, requestID, err)
	return result
}

func (e *Executor) cancelled(result domain.ServerResult, requestID string) domain.ServerResult {
	result.Status = domain.ServerStatusCancelled
	result.Error = CancelledMessage
	result.Data = nil
	e.progress.Log(requestID, fmt.Sprintf("[%s] cancelled", result.Server))
	return result
}
