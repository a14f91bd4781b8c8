// Package reports runs catalog reports through the orchestrator and shapes
// their output for display.
package reports

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/rpattn/fleetquery/internal/domain"
	"github.com/rpattn/fleetquery/internal/export"
	"github.com/rpattn/fleetquery/internal/orchestrator"
	"github.com/rpattn/fleetquery/internal/reconcile"
	"github.com/rpattn/fleetquery/internal/templates"
)

// Fleet resolves the servers a report runs on.
type Fleet interface {
	Servers() []domain.ServerDescriptor
	ServerByHost(host string) (domain.ServerDescriptor, bool)
	ServerForEntity(code string) (domain.ServerDescriptor, error)
}

// Dispatcher runs resolved plans.
type Dispatcher interface {
	TargetServers(names []string) ([]domain.ServerDescriptor, error)
	Execute(ctx context.Context, plan orchestrator.Plan) (domain.QueryResponse, error)
	Submit(plan orchestrator.Plan) (string, error)
}

// Renderer turns rows into a downloadable file.
type Renderer interface {
	Render(rows []domain.Row, format export.Format, baseName string) (export.File, error)
}

// Uploader stores a rendered file and returns its reference.
type Uploader interface {
	Upload(ctx context.Context, data []byte, name, contentType string) (string, error)
}

// Request asks for one catalog report.
type Request struct {
	Report     string                    `json:"report"`
	Parameters domain.TemplateParameters `json:"parameters"`
	Servers    []string                  `json:"servers,omitempty"`
	Upload     bool                      `json:"upload,omitempty"`
	Format     string                    `json:"format,omitempty"`
}

// Report is the presented outcome of a synchronous run.
type Report struct {
	RequestID      string                `json:"request_id"`
	Report         string                `json:"report"`
	Status         domain.ExecutionState `json:"status"`
	Columns        []string              `json:"colunas"`
	Data           []domain.Row          `json:"dados"`
	TotalRows      int                   `json:"total_rows"`
	ElapsedSeconds float64               `json:"elapsed_seconds"`
	Warnings       []string              `json:"warnings"`
	UploadURL      string                `json:"upload_url,omitempty"`
}

type Runner struct {
	catalog    *templates.Catalog
	fleet      Fleet
	expander   orchestrator.Expander
	dispatcher Dispatcher
	renderer   Renderer
	uploader   Uploader
}

type Option func(*Runner)

// WithUpload enables Request.Upload: results are rendered with renderer and
// stored through uploader.
func WithUpload(renderer Renderer, uploader Uploader) Option {
	return func(r *Runner) {
		r.renderer = renderer
		r.uploader = uploader
	}
}

func NewRunner(catalog *templates.Catalog, fleet Fleet, expander orchestrator.Expander, dispatcher Dispatcher, opts ...Option) *Runner {
	r := &Runner{
		catalog:    catalog,
		fleet:      fleet,
		expander:   expander,
		dispatcher: dispatcher,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// List returns the catalog in display order.
func (r *Runner) List() []templates.ReportDefinition {
	return r.catalog.List()
}

// Plan validates req and resolves it into a dispatchable plan. Nothing is
// sent to any server.
func (r *Runner) Plan(req Request) (orchestrator.Plan, error) {
	def, err := r.catalog.Get(req.Report)
	if err != nil {
		return orchestrator.Plan{}, &domain.ValidationError{Field: "report", Message: err.Error(), Err: domain.ErrUnknownTemplate}
	}
	if err := def.Validate(req.Parameters); err != nil {
		return orchestrator.Plan{}, err
	}

	switch def.Mode {
	case templates.ModeSingleServer:
		return r.planSingle(def, req.Parameters)
	case templates.ModeMultiServer:
		tasks, err := r.fanOutTasks(def, req)
		if err != nil {
			return orchestrator.Plan{}, err
		}
		return orchestrator.Plan{Mode: orchestrator.ModeMulti, Label: def.ID, Tasks: tasks}, nil
	case templates.ModeMultiDatabase:
		return r.planComparison(def, req)
	default:
		return orchestrator.Plan{}, fmt.Errorf("report %s: unknown execution mode %q", def.ID, def.Mode)
	}
}

func (r *Runner) planSingle(def templates.ReportDefinition, params domain.TemplateParameters) (orchestrator.Plan, error) {
	server, err := r.fleet.ServerForEntity(params.Entity)
	if err != nil {
		return orchestrator.Plan{}, &domain.ValidationError{Field: "entity", Message: err.Error(), Err: err}
	}
	return orchestrator.Plan{
		Mode:  orchestrator.ModeSingle,
		Label: def.ID,
		Tasks: []orchestrator.Task{{
			Server:    server,
			Statement: r.expander.Expand(def.SQL, params, server),
			Database:  def.Database,
		}},
	}, nil
}

func (r *Runner) fanOutTasks(def templates.ReportDefinition, req Request) ([]orchestrator.Task, error) {
	servers, err := r.dispatcher.TargetServers(req.Servers)
	if err != nil {
		return nil, err
	}
	tasks := make([]orchestrator.Task, 0, len(servers))
	for _, server := range servers {
		tasks = append(tasks, orchestrator.Task{
			Server:    server,
			Statement: r.expander.Expand(def.SQL, req.Parameters, server),
			Database:  def.Database,
		})
	}
	return tasks, nil
}

func (r *Runner) planComparison(def templates.ReportDefinition, req Request) (orchestrator.Plan, error) {
	cmp := def.Comparison
	if cmp == nil {
		return orchestrator.Plan{}, fmt.Errorf("report %s: comparison is not configured", def.ID)
	}
	tasks, err := r.fanOutTasks(def, req)
	if err != nil {
		return orchestrator.Plan{}, err
	}

	server, ok := r.fleet.ServerByHost(cmp.Host)
	if !ok {
		fleet := r.fleet.Servers()
		if len(fleet) == 0 {
			return orchestrator.Plan{}, domain.NewValidationError("servers", "no servers configured")
		}
		server = fleet[0]
	}

	columns := reconcile.Columns{
		Entity:         cmp.EntityColumn,
		Account:        cmp.AccountColumn,
		PrimaryValue:   cmp.PrimaryValueColumn,
		SecondaryValue: cmp.SecondaryValueColumn,
		Difference:     cmp.DifferenceColumn,
	}
	return orchestrator.Plan{
		Mode:  orchestrator.ModeComparison,
		Label: def.ID,
		Tasks: tasks,
		Secondary: &orchestrator.Task{
			Server:    server,
			Statement: r.expander.Expand(cmp.SQL, req.Parameters, server),
			Database:  cmp.Database,
		},
		Merge: columns.Merge,
	}, nil
}

// Submit plans req and starts it in the background.
func (r *Runner) Submit(req Request) (string, error) {
	plan, err := r.Plan(req)
	if err != nil {
		return "", err
	}
	return r.dispatcher.Submit(plan)
}

// Run plans, executes and presents req. A failed or skipped upload is
// reported as a warning; the report itself is still returned. Requests that
// ended in error or were cancelled are never uploaded.
func (r *Runner) Run(ctx context.Context, req Request) (Report, error) {
	plan, err := r.Plan(req)
	if err != nil {
		return Report{}, err
	}
	response, err := r.dispatcher.Execute(ctx, plan)
	if err != nil {
		return Report{}, err
	}

	report := Present(req.Report, response)
	switch {
	case !req.Upload:
	case response.Status == domain.ExecutionStateError || response.Status == domain.ExecutionStateCancelled:
		log.Printf("[reports] skipping upload of %s: request %s", response.RequestID, response.Status)
		report.Warnings = append(report.Warnings, fmt.Sprintf("upload skipped: request %s", response.Status))
	default:
		url, err := r.upload(ctx, req, response)
		if err != nil {
			log.Printf("[reports] upload of %s failed: %v", response.RequestID, err)
			report.Warnings = append(report.Warnings, fmt.Sprintf("upload: %v", err))
		} else {
			report.UploadURL = url
		}
	}
	return report, nil
}

func (r *Runner) upload(ctx context.Context, req Request, response domain.QueryResponse) (string, error) {
	if r.renderer == nil || r.uploader == nil {
		return "", fmt.Errorf("uploads are not configured")
	}
	format := export.FormatXLSX
	if req.Format != "" {
		parsed, err := export.ParseFormat(req.Format)
		if err != nil {
			return "", err
		}
		format = parsed
	}
	file, err := r.renderer.Render(response.Results, format, req.Report)
	if err != nil {
		return "", err
	}
	return r.uploader.Upload(ctx, file.Data, file.Name, file.ContentType)
}

// Present shapes a terminal response for display: columns renamed, values
// formatted and server failures turned into warnings.
func Present(reportID string, response domain.QueryResponse) Report {
	rows := FormatRows(response.Results)
	columns := []string{}
	if len(rows) > 0 {
		columns = rows[0].Columns()
	}
	elapsed := time.Duration(response.ExecutionTimeMs) * time.Millisecond
	elapsed = elapsed.Round(10 * time.Millisecond)
	warnings := make([]string, 0, len(response.Errors))
	for _, e := range response.Errors {
		if e.Server == "" {
			warnings = append(warnings, e.Error)
			continue
		}
		warnings = append(warnings, fmt.Sprintf("%s: %s", e.Server, e.Error))
	}
	return Report{
		RequestID:      response.RequestID,
		Report:         reportID,
		Status:         response.Status,
		Columns:        columns,
		Data:           rows,
		TotalRows:      len(rows),
		ElapsedSeconds: elapsed.Seconds(),
		Warnings:       warnings,
	}
}
