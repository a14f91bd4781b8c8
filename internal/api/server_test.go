package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rpattn/fleetquery/internal/domain"
	"github.com/rpattn/fleetquery/internal/export"
	"github.com/rpattn/fleetquery/internal/logstream"
	"github.com/rpattn/fleetquery/internal/metrics"
	"github.com/rpattn/fleetquery/internal/orchestrator"
	"github.com/rpattn/fleetquery/internal/reports"
	"github.com/rpattn/fleetquery/internal/shard"
	"github.com/rpattn/fleetquery/internal/templates"
)

type runFunc func(ctx context.Context, server domain.ServerDescriptor, statement string) domain.ServerResult

func (f runFunc) Run(ctx context.Context, server domain.ServerDescriptor, statement, _, _ string) domain.ServerResult {
	return f(ctx, server, statement)
}

func rowsRunner(ctx context.Context, server domain.ServerDescriptor, statement string) domain.ServerResult {
	row := domain.NewRow([]string{"Servidor", "Valor"}, []domain.Value{domain.TextValue(server.Name), domain.DecimalValue(10)})
	return domain.ServerResult{Server: server.Name, Status: domain.ServerStatusSuccess, Rows: 1, Data: []domain.Row{row}}
}

type memoryUploader struct {
	names []string
}

func (u *memoryUploader) Upload(_ context.Context, _ []byte, name, _ string) (string, error) {
	u.names = append(u.names, name)
	return "mem://Consultas/" + name, nil
}

type testEnv struct {
	server   *httptest.Server
	orch     *orchestrator.Orchestrator
	logs     *logstream.Stream
	uploader *memoryUploader
}

func newTestEnv(t *testing.T, runner orchestrator.Runner) *testEnv {
	t.Helper()
	fleet := []domain.ServerDescriptor{
		{Name: "MMN", Host: "10.30.11.2"},
		{Name: "USEB", Host: "10.31.11.2"},
		{Name: "ARJ", Host: "10.32.11.2"},
	}
	dir, err := shard.NewDefault(fleet)
	if err != nil {
		t.Fatalf("NewDefault returned error: %v", err)
	}
	engine := templates.NewEngine(dir)
	catalog := templates.DefaultCatalog()
	logs := logstream.New()
	m := metrics.New()
	orch := orchestrator.New(runner, dir,
		orchestrator.WithExpander(engine),
		orchestrator.WithTemplates(catalog),
		orchestrator.WithProgressLogger(logs),
		orchestrator.WithObserver(m),
	)
	exporter := export.NewService(orch)
	uploader := &memoryUploader{}

	srv := NewServer(Deps{
		Queries:  orch,
		Reports:  reports.NewRunner(catalog, dir, engine, orch, reports.WithUpload(exporter, uploader)),
		Logs:     logs,
		Exporter: exporter,
		Uploader: uploader,
		Metrics:  m,
		Fleet:    fleet,
	}, WithStatusPoll(10*time.Millisecond))

	env := &testEnv{server: httptest.NewServer(srv.Routes()), orch: orch, logs: logs, uploader: uploader}
	t.Cleanup(env.server.Close)
	return env
}

func (e *testEnv) do(t *testing.T, method, path, body string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, e.server.URL+path, bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var payload map[string]any
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		_ = json.NewDecoder(resp.Body).Decode(&payload)
	}
	return resp.StatusCode, payload
}

func (e *testEnv) waitTerminal(t *testing.T, id string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if status, ok := e.orch.Status(id); ok && status.Status.Terminal() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("request %s did not finish", id)
}

func TestHealthAndCatalog(t *testing.T) {
	env := newTestEnv(t, runFunc(rowsRunner))

	code, payload := env.do(t, http.MethodGet, "/api/status", "")
	if code != http.StatusOK || payload["status"] != "ok" || payload["servers"] != float64(3) {
		t.Fatalf("unexpected health response %d %v", code, payload)
	}

	resp, err := http.Get(env.server.URL + "/api/reports")
	if err != nil {
		t.Fatalf("GET reports: %v", err)
	}
	defer resp.Body.Close()
	var list []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatalf("decode reports: %v", err)
	}
	if len(list) != 8 || list[0]["id"] != "lotes_sem_anexo" {
		t.Fatalf("unexpected catalog %v", list)
	}
}

func TestExecuteSingleSync(t *testing.T) {
	env := newTestEnv(t, runFunc(rowsRunner))

	code, payload := env.do(t, http.MethodPost, "/api/query/", `{"query":"SELECT 1","server":"arj"}`)
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %v", code, payload)
	}
	if payload["status"] != string(domain.ExecutionStateCompleted) || payload["total_rows"] != float64(1) {
		t.Fatalf("unexpected response %v", payload)
	}

	code, payload = env.do(t, http.MethodPost, "/api/query/", `{"query":"SELECT 1","server":"nope"}`)
	if code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown server, got %d: %v", code, payload)
	}
	code, _ = env.do(t, http.MethodPost, "/api/query/", `{not json`)
	if code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed body, got %d", code)
	}
}

func TestExecuteMultiAsyncLifecycle(t *testing.T) {
	env := newTestEnv(t, runFunc(rowsRunner))

	code, payload := env.do(t, http.MethodPost, "/api/query/multi?async=true", `{"query":"SELECT 1","servers":["MMN","ARJ"]}`)
	if code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %v", code, payload)
	}
	id, _ := payload["request_id"].(string)
	if id == "" {
		t.Fatalf("missing request id in %v", payload)
	}
	env.waitTerminal(t, id)

	code, payload = env.do(t, http.MethodGet, "/api/query/"+id+"/status", "")
	if code != http.StatusOK || payload["status"] != string(domain.ExecutionStateCompleted) || payload["progress"] != float64(100) {
		t.Fatalf("unexpected status %d %v", code, payload)
	}

	code, payload = env.do(t, http.MethodGet, "/api/query/"+id+"/result", "")
	if code != http.StatusOK || payload["total_rows"] != float64(2) {
		t.Fatalf("unexpected result %d %v", code, payload)
	}

	code, payload = env.do(t, http.MethodGet, "/api/query/"+id+"/logs", "")
	logs, _ := payload["logs"].([]any)
	if code != http.StatusOK || len(logs) < 2 {
		t.Fatalf("expected progress lines, got %d %v", code, payload)
	}

	resp, err := http.Get(env.server.URL + "/api/query/" + id + "/export?format=csv&name=lotes")
	if err != nil {
		t.Fatalf("GET export: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "text/csv" {
		t.Fatalf("unexpected export response %d %q", resp.StatusCode, resp.Header.Get("Content-Type"))
	}

	code, payload = env.do(t, http.MethodPost, "/api/query/"+id+"/upload", `{"format":"xlsx","name":"lotes"}`)
	if code != http.StatusOK || !strings.HasPrefix(payload["url"].(string), "mem://Consultas/lotes_") {
		t.Fatalf("unexpected upload response %d %v", code, payload)
	}
}

func TestMultiRejectsRoutedReports(t *testing.T) {
	env := newTestEnv(t, runFunc(rowsRunner))

	for _, body := range []string{
		`{"template":"aquisicoes","parameters":{"entity":"3011"}}`,
		`{"template":"conferencia_13","parameters":{"year":2025}}`,
	} {
		code, payload := env.do(t, http.MethodPost, "/api/query/multi", body)
		if code != http.StatusBadRequest {
			t.Fatalf("expected 400 for %s, got %d %v", body, code, payload)
		}
	}
	if running := env.orch.Running(); len(running) != 0 {
		t.Fatalf("expected no dispatch, got %v", running)
	}
}

func TestUnknownRequests(t *testing.T) {
	env := newTestEnv(t, runFunc(rowsRunner))

	if code, _ := env.do(t, http.MethodGet, "/api/query/missing/status", ""); code != http.StatusNotFound {
		t.Fatalf("expected 404 status, got %d", code)
	}
	if code, _ := env.do(t, http.MethodGet, "/api/query/missing/result", ""); code != http.StatusNotFound {
		t.Fatalf("expected 404 result, got %d", code)
	}
	if code, _ := env.do(t, http.MethodPost, "/api/query/missing/upload", ""); code != http.StatusNotFound {
		t.Fatalf("expected 404 upload, got %d", code)
	}
	code, payload := env.do(t, http.MethodPost, "/api/query/missing/cancel", "")
	if code != http.StatusOK || payload["cancelled"] != false {
		t.Fatalf("cancel of unknown id must be a no-op, got %d %v", code, payload)
	}
	code, payload = env.do(t, http.MethodPost, "/api/query/cancel-all", "")
	if code != http.StatusOK || payload["cancelled"] != float64(0) {
		t.Fatalf("cancel-all on empty registry must be a no-op, got %d %v", code, payload)
	}
	if code, _ := env.do(t, http.MethodGet, "/api/history", ""); code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 with history disabled, got %d", code)
	}
}

func TestCancelRunningRequest(t *testing.T) {
	started := make(chan struct{}, 3)
	env := newTestEnv(t, runFunc(func(ctx context.Context, server domain.ServerDescriptor, _ string) domain.ServerResult {
		started <- struct{}{}
		<-ctx.Done()
		return domain.ServerResult{Server: server.Name, Status: domain.ServerStatusCancelled, Error: "query cancelled"}
	}))

	_, payload := env.do(t, http.MethodPost, "/api/query/multi?async=true", `{"query":"SELECT 1"}`)
	id := payload["request_id"].(string)
	<-started

	code, payload := env.do(t, http.MethodPost, "/api/query/"+id+"/cancel", "")
	if code != http.StatusOK || payload["cancelled"] != true {
		t.Fatalf("unexpected cancel response %d %v", code, payload)
	}
	env.waitTerminal(t, id)
	if status, _ := env.orch.Status(id); status.Status != domain.ExecutionStateCancelled {
		t.Fatalf("expected cancelled, got %s", status.Status)
	}
}

func TestRunReportRejectsBadParameters(t *testing.T) {
	env := newTestEnv(t, runFunc(rowsRunner))

	code, payload := env.do(t, http.MethodPost, "/api/reports/run", `{"report":"aquisicoes","parameters":{"entity":"3011"}}`)
	if code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %v", code, payload)
	}

	code, payload = env.do(t, http.MethodPost, "/api/reports/run", `{"report":"aquisicoes","parameters":{"entity":"3211","year":2025,"period":3}}`)
	if code != http.StatusOK || payload["status"] != string(domain.ExecutionStateCompleted) {
		t.Fatalf("unexpected report response %d %v", code, payload)
	}
	columns, _ := payload["colunas"].([]any)
	if len(columns) != 2 || columns[0] != "Servidor" {
		t.Fatalf("unexpected columns %v", payload["colunas"])
	}
}

func TestLogStreamWebsocket(t *testing.T) {
	release := make(chan struct{})
	env := newTestEnv(t, runFunc(func(ctx context.Context, server domain.ServerDescriptor, statement string) domain.ServerResult {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return rowsRunner(ctx, server, statement)
	}))

	_, payload := env.do(t, http.MethodPost, "/api/query/?async=true", `{"query":"SELECT 1","server":"MMN"}`)
	id := payload["request_id"].(string)

	url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/api/query/" + id + "/logs/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var first logMessage
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read first line: %v", err)
	}
	if !strings.HasPrefix(first.Message, "starting") || !strings.HasPrefix(first.Line, "[") {
		t.Fatalf("unexpected first line %+v", first)
	}

	close(release)
	var messages []logMessage
	for {
		var msg logMessage
		if err := conn.ReadJSON(&msg); err != nil {
			var closeErr *websocket.CloseError
			if !errors.As(err, &closeErr) || closeErr.Code != websocket.CloseNormalClosure {
				t.Fatalf("expected normal closure, got %v", err)
			}
			break
		}
		messages = append(messages, msg)
	}
	if len(messages) == 0 || !strings.HasPrefix(messages[len(messages)-1].Message, "finished") {
		t.Fatalf("expected the finish line before closure, got %+v", messages)
	}
}

func TestLogStreamClosesForUnknownRequest(t *testing.T) {
	env := newTestEnv(t, runFunc(rowsRunner))

	url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/api/query/does-not-exist/logs/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	_, _, err = conn.ReadMessage()
	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) || closeErr.Code != websocket.CloseNormalClosure || closeErr.Text != "unknown request" {
		t.Fatalf("expected unknown-request closure, got %v", err)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, runFunc(rowsRunner))
	env.do(t, http.MethodGet, "/api/status", "")

	resp, err := http.Get(env.server.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET metrics: %v", err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(resp.Body)
	if resp.StatusCode != http.StatusOK || !strings.Contains(buf.String(), "fleetquery_http_requests_total") {
		t.Fatalf("unexpected metrics output %d", resp.StatusCode)
	}
}
