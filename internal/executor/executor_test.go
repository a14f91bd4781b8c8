package executor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rpattn/fleetquery/internal/credentials"
	"github.com/rpattn/fleetquery/internal/db"
	"github.com/rpattn/fleetquery/internal/domain"
)

type staticResolver struct {
	err error
}

func (r staticResolver) Resolve(domain.ServerDescriptor, string) (credentials.Credential, error) {
	if r.err != nil {
		return credentials.Credential{}, r.err
	}
	return credentials.Credential{User: "u", Password: "p"}, nil
}

type recordingLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *recordingLogger) Log(requestID, message string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, requestID+" "+message)
}

type stubRows struct {
	columns []string
	data    [][]domain.Value
	idx     int
}

func (r *stubRows) Columns() []string { return r.columns }

func (r *stubRows) Next() bool {
	r.idx++
	return r.idx <= len(r.data)
}

func (r *stubRows) Values() ([]domain.Value, error) {
	return r.data[r.idx-1], nil
}

func (r *stubRows) Err() error { return nil }

func (r *stubRows) Close() {}

type stubConn struct {
	query  func(ctx context.Context, statement string) (db.Rows, error)
	closed bool
}

func (c *stubConn) Query(ctx context.Context, statement string) (db.Rows, error) {
	return c.query(ctx, statement)
}

func (c *stubConn) Close() error {
	c.closed = true
	return nil
}

func dialerFor(conn *stubConn, dials *int) db.Dialer {
	return db.DialerFunc(func(ctx context.Context, target db.Target) (db.Conn, error) {
		if dials != nil {
			*dials++
		}
		return conn, nil
	})
}

func blockingQuery(ctx context.Context, statement string) (db.Rows, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

var testServer = domain.ServerDescriptor{Name: "MMN", Host: "10.30.11.2"}

func TestRunSuccessMaterializesRows(t *testing.T) {
	conn := &stubConn{query: func(ctx context.Context, statement string) (db.Rows, error) {
		return &stubRows{
			columns: []string{"Entidade", "Saldo"},
			data: [][]domain.Value{
				{domain.TextValue("3011"), domain.DecimalValue(10.5)},
				{domain.TextValue("3013"), domain.NullValue()},
			},
		}, nil
	}}
	logger := &recordingLogger{}
	exec := New(dialerFor(conn, nil), staticResolver{}, WithProgressLogger(logger))

	result := exec.Run(context.Background(), testServer, "SELECT 1", "AASI", "req-1")
	if result.Status != domain.ServerStatusSuccess {
		t.Fatalf("expected success, got %s (%s)", result.Status, result.Error)
	}
	if result.Rows != 2 || len(result.Data) != 2 {
		t.Fatalf("expected 2 rows, got %d", result.Rows)
	}
	saldo, ok := result.Data[1].Get("Saldo")
	if !ok || !saldo.IsNull() {
		t.Fatalf("expected explicit null for missing value, got %+v (present=%v)", saldo, ok)
	}
	if !conn.closed {
		t.Fatalf("connection was not released")
	}
	if len(logger.lines) == 0 || !strings.Contains(logger.lines[0], "req-1 [MMN]") {
		t.Fatalf("expected progress lines tagged by request and server, got %v", logger.lines)
	}
}

func TestRunCancelledBeforeDial(t *testing.T) {
	dials := 0
	conn := &stubConn{query: blockingQuery}
	exec := New(dialerFor(conn, &dials), staticResolver{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := exec.Run(ctx, testServer, "SELECT 1", "", "req")
	if result.Status != domain.ServerStatusCancelled || result.Error != CancelledMessage {
		t.Fatalf("expected cancelled result, got %+v", result)
	}
	if dials != 0 {
		t.Fatalf("expected no dial after cancellation, got %d", dials)
	}
}

func TestRunCancelledMidQuery(t *testing.T) {
	conn := &stubConn{query: blockingQuery}
	exec := New(dialerFor(conn, nil), staticResolver{})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	result := exec.Run(ctx, testServer, "SELECT 1", "", "req")
	if result.Status != domain.ServerStatusCancelled {
		t.Fatalf("expected cancelled, got %+v", result)
	}
	if !conn.closed {
		t.Fatalf("connection was not released after cancellation")
	}
}

func TestRunCommandTimeoutIsError(t *testing.T) {
	conn := &stubConn{query: blockingQuery}
	exec := New(dialerFor(conn, nil), staticResolver{}, WithCommandTimeout(20*time.Millisecond))

	result := exec.Run(context.Background(), testServer, "SELECT 1", "", "req")
	if result.Status != domain.ServerStatusError {
		t.Fatalf("expected error status on timeout, got %s", result.Status)
	}
	if !strings.Contains(result.Error, "command timeout") {
		t.Fatalf("expected timeout message, got %q", result.Error)
	}
	if !conn.closed {
		t.Fatalf("connection was not released after timeout")
	}
}

func TestRunUnresolvedCredentials(t *testing.T) {
	dials := 0
	exec := New(dialerFor(&stubConn{query: blockingQuery}, &dials), staticResolver{err: domain.ErrCredentialsUnresolved})

	result := exec.Run(context.Background(), testServer, "SELECT 1", "", "req")
	if result.Status != domain.ServerStatusError || !strings.Contains(result.Error, domain.ErrCredentialsUnresolved.Error()) {
		t.Fatalf("expected credentials error, got %+v", result)
	}
	if dials != 0 {
		t.Fatalf("must not dial without credentials")
	}
}

func TestRunQueryErrorAndPanicRecovery(t *testing.T) {
	conn := &stubConn{query: func(ctx context.Context, statement string) (db.Rows, error) {
		return nil, errors.New("invalid object name 'Vw_Lotes'")
	}}
	exec := New(dialerFor(conn, nil), staticResolver{})

	result := exec.Run(context.Background(), testServer, "SELECT 1", "", "req")
	if result.Status != domain.ServerStatusError || result.Error != "invalid object name 'Vw_Lotes'" {
		t.Fatalf("unexpected result: %+v", result)
	}

	panicking := New(db.DialerFunc(func(ctx context.Context, target db.Target) (db.Conn, error) {
		panic("driver exploded")
	}), staticResolver{})
	result = panicking.Run(context.Background(), testServer, "SELECT 1", "", "req")
	if result.Status != domain.ServerStatusError || !strings.Contains(result.Error, "driver exploded") {
		t.Fatalf("expected recovered panic as error, got %+v", result)
	}
}

func TestRunDefaultDatabase(t *testing.T) {
	var seen string
	dialer := db.DialerFunc(func(ctx context.Context, target db.Target) (db.Conn, error) {
		seen = target.Database
		return &stubConn{query: func(context.Context, string) (db.Rows, error) { return &stubRows{}, nil }}, nil
	})
	exec := New(dialer, staticResolver{}, WithDefaultDatabase("Mineiracao_APS"))

	exec.Run(context.Background(), testServer, "SELECT 1", "", "req")
	if seen != "Mineiracao_APS" {
		t.Fatalf("expected executor default database, got %q", seen)
	}

	exec.Run(context.Background(), domain.ServerDescriptor{Name: "x", DefaultDatabase: "Other"}, "SELECT 1", "", "req")
	if seen != "Other" {
		t.Fatalf("expected server default database, got %q", seen)
	}
}
