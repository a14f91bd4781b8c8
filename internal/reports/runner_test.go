package reports

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rpattn/fleetquery/internal/domain"
	"github.com/rpattn/fleetquery/internal/export"
	"github.com/rpattn/fleetquery/internal/orchestrator"
	"github.com/rpattn/fleetquery/internal/shard"
	"github.com/rpattn/fleetquery/internal/templates"
)

type stubDispatcher struct {
	fleet    []domain.ServerDescriptor
	plans    []orchestrator.Plan
	response domain.QueryResponse
}

func (d *stubDispatcher) TargetServers(names []string) ([]domain.ServerDescriptor, error) {
	if len(names) == 0 {
		return d.fleet, nil
	}
	var out []domain.ServerDescriptor
	for _, server := range d.fleet {
		for _, name := range names {
			if strings.EqualFold(server.Name, name) {
				out = append(out, server)
			}
		}
	}
	if len(out) == 0 {
		return nil, &domain.ValidationError{Field: "servers", Message: "no match", Err: domain.ErrServerNotFound}
	}
	return out, nil
}

func (d *stubDispatcher) Execute(_ context.Context, plan orchestrator.Plan) (domain.QueryResponse, error) {
	d.plans = append(d.plans, plan)
	return d.response, nil
}

func (d *stubDispatcher) Submit(plan orchestrator.Plan) (string, error) {
	d.plans = append(d.plans, plan)
	return "req-submitted", nil
}

type stubUploader struct {
	names []string
	err   error
}

func (u *stubUploader) Upload(_ context.Context, _ []byte, name, _ string) (string, error) {
	if u.err != nil {
		return "", u.err
	}
	u.names = append(u.names, name)
	return "mem://" + name, nil
}

func testFleet() []domain.ServerDescriptor {
	return []domain.ServerDescriptor{
		{Name: "MMN", Host: "10.30.11.2"},
		{Name: "USEB", Host: "10.31.11.2"},
		{Name: "ARJ", Host: "10.32.11.2"},
	}
}

func newTestRunner(t *testing.T, fleet []domain.ServerDescriptor, opts ...Option) (*Runner, *stubDispatcher) {
	t.Helper()
	dir, err := shard.NewDefault(fleet)
	if err != nil {
		t.Fatalf("NewDefault returned error: %v", err)
	}
	engine := templates.NewEngine(dir, templates.WithClock(func() time.Time {
		return time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	}))
	dispatcher := &stubDispatcher{fleet: fleet}
	return NewRunner(templates.DefaultCatalog(), dir, engine, dispatcher, opts...), dispatcher
}

func intPtr(v int) *int { return &v }

func TestPlanSingleServerResolvesEntityOwner(t *testing.T) {
	runner, _ := newTestRunner(t, testFleet())

	plan, err := runner.Plan(Request{
		Report:     "aquisicoes",
		Parameters: domain.TemplateParameters{Entity: "3211", Year: intPtr(2025), Period: intPtr(2)},
	})
	if err != nil {
		t.Fatalf("Plan returned error: %v", err)
	}
	if plan.Mode != orchestrator.ModeSingle || len(plan.Tasks) != 1 {
		t.Fatalf("unexpected plan %+v", plan)
	}
	task := plan.Tasks[0]
	if task.Server.Name != "ARJ" || task.Database != "AASI" {
		t.Fatalf("expected ARJ/AASI, got %s/%s", task.Server.Name, task.Database)
	}
	if !strings.Contains(task.Statement, "'3211'") || strings.Contains(task.Statement, "{ano}") {
		t.Fatalf("statement not expanded: %s", task.Statement)
	}
}

func TestPlanRejectsBeforeDispatch(t *testing.T) {
	runner, dispatcher := newTestRunner(t, testFleet())

	_, err := runner.Plan(Request{
		Report:     "aquisicoes",
		Parameters: domain.TemplateParameters{Entity: "9999", Year: intPtr(2025), Period: intPtr(2)},
	})
	if !domain.IsValidation(err) || !errors.Is(err, domain.ErrEntityNotMapped) {
		t.Fatalf("expected entity validation error, got %v", err)
	}

	_, err = runner.Plan(Request{Report: "baixas", Parameters: domain.TemplateParameters{Entity: "3211"}})
	if !domain.IsValidation(err) {
		t.Fatalf("expected missing parameter validation error, got %v", err)
	}

	_, err = runner.Plan(Request{Report: "nope"})
	if !domain.IsValidation(err) || !errors.Is(err, domain.ErrUnknownTemplate) {
		t.Fatalf("expected unknown report error, got %v", err)
	}

	if _, err := runner.Run(context.Background(), Request{Report: "nope"}); err == nil {
		t.Fatalf("Run should fail for unknown reports")
	}
	if len(dispatcher.plans) != 0 {
		t.Fatalf("nothing should be dispatched, got %d plans", len(dispatcher.plans))
	}
}

func TestPlanMultiServerHonoursAllowList(t *testing.T) {
	runner, _ := newTestRunner(t, testFleet())

	plan, err := runner.Plan(Request{Report: "lotes_sem_anexo", Servers: []string{"arj", "mmn"}})
	if err != nil {
		t.Fatalf("Plan returned error: %v", err)
	}
	if len(plan.Tasks) != 2 || plan.Tasks[0].Server.Name != "MMN" || plan.Tasks[1].Server.Name != "ARJ" {
		t.Fatalf("expected fleet-ordered MMN, ARJ; got %+v", plan.Tasks)
	}
	if plan.Label != "lotes_sem_anexo" || plan.Secondary != nil {
		t.Fatalf("unexpected plan label/secondary: %+v", plan)
	}
}

func TestPlanComparisonUsesDesignatedHost(t *testing.T) {
	runner, _ := newTestRunner(t, testFleet())

	plan, err := runner.Plan(Request{
		Report:     "conferencia_13",
		Parameters: domain.TemplateParameters{Year: intPtr(2025), Period: intPtr(11)},
	})
	if err != nil {
		t.Fatalf("Plan returned error: %v", err)
	}
	if plan.Mode != orchestrator.ModeComparison || plan.Secondary == nil || plan.Merge == nil {
		t.Fatalf("unexpected plan %+v", plan)
	}
	if plan.Secondary.Server.Name != "USEB" || plan.Secondary.Database != "Mineiracao_APS" {
		t.Fatalf("unexpected secondary %+v", plan.Secondary)
	}
	if len(plan.Tasks) != 3 {
		t.Fatalf("expected the primary to fan out to every server, got %d", len(plan.Tasks))
	}

	primary := []domain.Row{domain.NewRow(
		[]string{"Entidade", "Conta", "saldo_totalAASI"},
		[]domain.Value{domain.TextValue("3111"), domain.TextValue("2141001"), domain.DecimalValue(100)},
	)}
	secondary := []domain.Row{domain.NewRow(
		[]string{"Entidade", "Conta", "saldo_totalAPS"},
		[]domain.Value{domain.TextValue("3111"), domain.TextValue("2141001"), domain.DecimalValue(80)},
	)}
	merged := plan.Merge(primary, secondary)
	diff, _ := merged[0].Get("Diferenca")
	if f, _ := diff.Float64(); f != -20 {
		t.Fatalf("expected difference -20, got %v", diff)
	}
}

func TestPlanComparisonFallsBackToFirstServer(t *testing.T) {
	fleet := []domain.ServerDescriptor{{Name: "ARJ", Host: "10.32.11.2"}, {Name: "MMN", Host: "10.30.11.2"}}
	runner, _ := newTestRunner(t, fleet)

	plan, err := runner.Plan(Request{
		Report:     "conferencia_13",
		Parameters: domain.TemplateParameters{Year: intPtr(2025), Period: intPtr(11)},
	})
	if err != nil {
		t.Fatalf("Plan returned error: %v", err)
	}
	if plan.Secondary.Server.Name != "ARJ" {
		t.Fatalf("expected fallback to first server, got %s", plan.Secondary.Server.Name)
	}
}

func TestRunPresentsAndUploads(t *testing.T) {
	uploader := &stubUploader{}
	renderer := export.NewService(nil, export.WithClock(func() time.Time {
		return time.Date(2025, 3, 10, 8, 30, 0, 0, time.UTC)
	}))
	runner, dispatcher := newTestRunner(t, testFleet(), WithUpload(renderer, uploader))
	dispatcher.response = domain.QueryResponse{
		RequestID:       "req-1",
		Status:          domain.ExecutionStateCompletedWithErrors,
		ExecutionTimeMs: 1534,
		Results: []domain.Row{domain.NewRow(
			[]string{"IDEntidade", "DataLote", "Saldo_Legal"},
			[]domain.Value{domain.TextValue("3011"), domain.TimestampValue(time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)), domain.DecimalValue(1234.56)},
		)},
		Errors: []domain.QueryError{{Server: "ARJ", Error: "login failed"}},
	}

	report, err := runner.Run(context.Background(), Request{Report: "lotes_sem_anexo", Upload: true, Format: "csv"})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if strings.Join(report.Columns, "|") != "Entidade|Data do Lote|Saldo" {
		t.Fatalf("unexpected columns %v", report.Columns)
	}
	saldo, _ := report.Data[0].Get("Saldo")
	data, _ := report.Data[0].Get("Data do Lote")
	if saldo.String() != "1.234,56" || data.String() != "01/02/2025" {
		t.Fatalf("unexpected formatting %q %q", saldo.String(), data.String())
	}
	if len(report.Warnings) != 1 || report.Warnings[0] != "ARJ: login failed" {
		t.Fatalf("unexpected warnings %v", report.Warnings)
	}
	if report.ElapsedSeconds != 1.53 {
		t.Fatalf("unexpected elapsed %v", report.ElapsedSeconds)
	}
	if report.UploadURL != "mem://lotes_sem_anexo_20250310_083000.csv" {
		t.Fatalf("unexpected upload url %q", report.UploadURL)
	}
}

func TestRunUploadFailureBecomesWarning(t *testing.T) {
	runner, dispatcher := newTestRunner(t, testFleet(), WithUpload(export.NewService(nil), &stubUploader{err: errors.New("denied")}))
	dispatcher.response = domain.QueryResponse{RequestID: "req-2", Status: domain.ExecutionStateCompleted}

	report, err := runner.Run(context.Background(), Request{Report: "saldo_anterior", Upload: true})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if report.UploadURL != "" || len(report.Warnings) != 1 || !strings.Contains(report.Warnings[0], "denied") {
		t.Fatalf("expected upload warning, got %+v", report)
	}
	if len(report.Columns) != 0 || report.TotalRows != 0 {
		t.Fatalf("empty result should present no columns, got %+v", report)
	}
}

func TestRunSkipsUploadForFailedRequests(t *testing.T) {
	for _, status := range []domain.ExecutionState{domain.ExecutionStateError, domain.ExecutionStateCancelled} {
		uploader := &stubUploader{}
		runner, dispatcher := newTestRunner(t, testFleet(), WithUpload(export.NewService(nil), uploader))
		dispatcher.response = domain.QueryResponse{RequestID: "req-3", Status: status}

		report, err := runner.Run(context.Background(), Request{Report: "saldo_anterior", Upload: true})
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
		if len(uploader.names) != 0 || report.UploadURL != "" {
			t.Fatalf("%s: expected no upload, got %v %q", status, uploader.names, report.UploadURL)
		}
		if len(report.Warnings) != 1 || !strings.Contains(report.Warnings[0], "upload skipped") {
			t.Fatalf("%s: expected skipped-upload warning, got %v", status, report.Warnings)
		}
	}
}

func TestFormatValue(t *testing.T) {
	cases := []struct {
		column string
		value  domain.Value
		want   string
	}{
		{"Valor", domain.IntegerValue(1500), "1.500,00"},
		{"Diferenca", domain.DecimalValue(-25), "-25,00"},
		{"Data", domain.TextValue("2025-01-31 10:11:12.347"), "31/01/2025"},
		{"Data", domain.TextValue("sem data"), "sem data"},
		{"Ano", domain.IntegerValue(2025), "2025"},
		{"Quantidade", domain.DecimalValue(0.5), "0,50"},
		{"Saldo", domain.NullValue(), ""},
		{"Conta", domain.TextValue("2141001"), "2141001"},
	}
	for _, tc := range cases {
		if got := FormatValue(tc.column, tc.value); got != tc.want {
			t.Fatalf("FormatValue(%s, %v) = %q, want %q", tc.column, tc.value, got, tc.want)
		}
	}
	if DisplayName("saldo_totalAPS") != "Saldo APS" || DisplayName("Outra") != "Outra" {
		t.Fatalf("unexpected display names")
	}
}
