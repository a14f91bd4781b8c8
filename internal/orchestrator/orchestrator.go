// Package orchestrator fans one logical query out to a set of servers,
// aggregates the per-server outcomes and tracks every request id through
// pending, running and a terminal state.
package orchestrator

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/rpattn/fleetquery/internal/domain"
)

// Mode names how a plan was dispatched.
type Mode string

const (
	ModeSingle     Mode = "single_server"
	ModeMulti      Mode = "multi_server"
	ModeComparison Mode = "multi_database"
)

const cancelledMessage = "query cancelled"

// Runner executes one statement on one server. It never fails; every outcome
// is carried by the returned result.
type Runner interface {
	Run(ctx context.Context, server domain.ServerDescriptor, statement, database, requestID string) domain.ServerResult
}

// Fleet is the configured server set.
type Fleet interface {
	Servers() []domain.ServerDescriptor
	Server(name string) (domain.ServerDescriptor, bool)
}

// Expander renders a statement for one server.
type Expander interface {
	Expand(template string, params domain.TemplateParameters, server domain.ServerDescriptor) string
}

// Templates resolves a template id and its parameters to statement text.
type Templates interface {
	Resolve(id string, params domain.TemplateParameters) (string, error)
	DispatchMode(id string) (string, error)
}

// ProgressLogger receives operator-facing progress lines.
type ProgressLogger interface {
	Log(requestID, message string)
}

// HistoryRecorder persists the summary of finished requests.
type HistoryRecorder interface {
	Record(ctx context.Context, record domain.ExecutionRecord) error
}

// Observer is notified about finished servers and requests.
type Observer interface {
	ObserveServer(result domain.ServerResult)
	ObserveRequest(mode string, status domain.ExecutionState, elapsed time.Duration)
}

type nopProgress struct{}

func (nopProgress) Log(string, string) {}

type nopObserver struct{}

func (nopObserver) ObserveServer(domain.ServerResult) {}

func (nopObserver) ObserveRequest(string, domain.ExecutionState, time.Duration) {}

// MergeFunc combines the aggregated primary rows with the secondary fetch.
type MergeFunc func(primary, secondary []domain.Row) []domain.Row

// Task is one statement bound to one server.
type Task struct {
	Server    domain.ServerDescriptor
	Statement string
	Database  string
}

// Plan is a fully resolved request ready for dispatch.
type Plan struct {
	Mode  Mode
	Label string
	Tasks []Task
	// Secondary, when set, runs alongside Tasks and is handed to Merge.
	Secondary *Task
	Merge     MergeFunc
}

func (p Plan) validate() error {
	if len(p.Tasks) == 0 {
		return domain.NewValidationError("servers", "no target server resolved")
	}
	for _, task := range p.Tasks {
		if strings.TrimSpace(task.Statement) == "" {
			return domain.NewValidationError("query", "statement for server %s is empty", task.Server.Name)
		}
	}
	if p.Secondary != nil && strings.TrimSpace(p.Secondary.Statement) == "" {
		return domain.NewValidationError("query", "secondary statement is empty")
	}
	return nil
}

func (p Plan) label() string {
	if p.Label != "" {
		return p.Label
	}
	return string(p.Mode)
}

type Orchestrator struct {
	runner    Runner
	fleet     Fleet
	expander  Expander
	templates Templates
	progress  ProgressLogger
	history   HistoryRecorder
	observer  Observer

	maxConcurrent  int
	historyTimeout time.Duration
	now            func() time.Time
	newID          func() string

	statuses *statusStore
	results  *resultStore
	cancels  *cancelRegistry
}

type Option func(*Orchestrator)

func WithMaxConcurrency(limit int) Option {
	return func(o *Orchestrator) {
		if limit > 0 {
			o.maxConcurrent = limit
		}
	}
}

func WithExpander(expander Expander) Option {
	return func(o *Orchestrator) {
		o.expander = expander
	}
}

func WithTemplates(templates Templates) Option {
	return func(o *Orchestrator) {
		o.templates = templates
	}
}

func WithProgressLogger(progress ProgressLogger) Option {
	return func(o *Orchestrator) {
		if progress != nil {
			o.progress = progress
		}
	}
}

// WithHistory records every terminal response through recorder.
func WithHistory(recorder HistoryRecorder) Option {
	return func(o *Orchestrator) {
		o.history = recorder
	}
}

func WithObserver(observer Observer) Option {
	return func(o *Orchestrator) {
		if observer != nil {
			o.observer = observer
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// WithIDGenerator replaces the uuid request id source.
func WithIDGenerator(next func() string) Option {
	return func(o *Orchestrator) {
		if next != nil {
			o.newID = next
		}
	}
}

func New(runner Runner, fleet Fleet, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		runner:         runner,
		fleet:          fleet,
		progress:       nopProgress{},
		observer:       nopObserver{},
		maxConcurrent:  16,
		historyTimeout: 5 * time.Second,
		now:            time.Now,
		newID:          func() string { return uuid.NewString() },
		statuses:       newStatusStore(),
		results:        newResultStore(),
		cancels:        newCancelRegistry(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// PlanQuery resolves a single-server request. The server must be named and
// part of the fleet.
func (o *Orchestrator) PlanQuery(req domain.QueryRequest) (Plan, error) {
	if strings.TrimSpace(req.Query) == "" {
		return Plan{}, domain.NewValidationError("query", "must not be empty")
	}
	if strings.TrimSpace(req.Server) == "" {
		return Plan{}, domain.NewValidationError("server", "must not be empty")
	}
	server, ok := o.fleet.Server(req.Server)
	if !ok {
		return Plan{}, &domain.ValidationError{
			Field:   "server",
			Message: fmt.Sprintf("%s is not a configured server", req.Server),
			Err:     domain.ErrServerNotFound,
		}
	}
	return Plan{
		Mode:  ModeSingle,
		Tasks: []Task{{Server: server, Statement: req.Query, Database: req.Database}},
	}, nil
}

// PlanMulti resolves a fan-out request. Exactly one of Query or Template must
// be set; the statement is expanded per target server.
func (o *Orchestrator) PlanMulti(req domain.MultiServerQueryRequest) (Plan, error) {
	statement, label, err := o.statementFor(req)
	if err != nil {
		return Plan{}, err
	}
	servers, err := o.TargetServers(req.Servers)
	if err != nil {
		return Plan{}, err
	}

	tasks := make([]Task, 0, len(servers))
	for _, server := range servers {
		text := statement
		if o.expander != nil {
			text = o.expander.Expand(statement, req.Parameters, server)
		}
		tasks = append(tasks, Task{Server: server, Statement: text, Database: req.Database})
	}
	return Plan{Mode: ModeMulti, Label: label, Tasks: tasks}, nil
}

func (o *Orchestrator) statementFor(req domain.MultiServerQueryRequest) (string, string, error) {
	hasQuery := strings.TrimSpace(req.Query) != ""
	hasTemplate := strings.TrimSpace(req.Template) != ""
	switch {
	case hasQuery && hasTemplate:
		return "", "", domain.NewValidationError("query", "query and template are mutually exclusive")
	case hasQuery:
		return req.Query, "", nil
	case !hasTemplate:
		return "", "", domain.NewValidationError("query", "either query or template is required")
	case o.templates == nil:
		return "", "", &domain.ValidationError{Field: "template", Message: "templates are not available", Err: domain.ErrUnknownTemplate}
	}
	// Unknown ids fall through to Resolve, which reports them.
	if mode, err := o.templates.DispatchMode(req.Template); err == nil && mode != string(ModeMulti) {
		return "", "", &domain.ValidationError{
			Field:   "template",
			Message: fmt.Sprintf("%s is a %s report; run it through the report runner", req.Template, mode),
			Err:     domain.ErrTemplateNotFanOut,
		}
	}
	statement, err := o.templates.Resolve(req.Template, req.Parameters)
	if err != nil {
		return "", "", err
	}
	return statement, req.Template, nil
}

// TargetServers intersects names with the fleet, keeping fleet order. An
// empty allow-list selects the whole fleet.
func (o *Orchestrator) TargetServers(names []string) ([]domain.ServerDescriptor, error) {
	fleet := o.fleet.Servers()
	if len(names) == 0 {
		if len(fleet) == 0 {
			return nil, domain.NewValidationError("servers", "no servers configured")
		}
		return fleet, nil
	}

	allowed := make(map[string]struct{}, len(names))
	for _, name := range names {
		allowed[strings.ToLower(strings.TrimSpace(name))] = struct{}{}
	}
	selected := make([]domain.ServerDescriptor, 0, len(names))
	for _, server := range fleet {
		if _, ok := allowed[strings.ToLower(server.Name)]; ok {
			selected = append(selected, server)
		}
	}
	if len(selected) == 0 {
		return nil, &domain.ValidationError{
			Field:   "servers",
			Message: fmt.Sprintf("none of %s is a configured server", strings.Join(names, ", ")),
			Err:     domain.ErrServerNotFound,
		}
	}
	return selected, nil
}

// Execute runs plan and returns its terminal response. Cancelling ctx, or
// calling Cancel with the request id, cancels every in-flight server.
func (o *Orchestrator) Execute(ctx context.Context, plan Plan) (domain.QueryResponse, error) {
	if err := plan.validate(); err != nil {
		return domain.QueryResponse{}, err
	}
	id := o.newID()
	runCtx, done := o.begin(ctx, id)
	defer done()
	return o.run(runCtx, id, plan), nil
}

// Submit starts plan in the background and returns its request id once the
// pending status is recorded.
func (o *Orchestrator) Submit(plan Plan) (string, error) {
	if err := plan.validate(); err != nil {
		return "", err
	}
	id := o.newID()
	runCtx, done := o.begin(context.Background(), id)
	go func() {
		defer done()
		o.run(runCtx, id, plan)
	}()
	return id, nil
}

func (o *Orchestrator) begin(parent context.Context, id string) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)
	o.cancels.register(id, cancel)
	o.statuses.update(id, domain.ExecutionStatePending, "", o.now())
	return ctx, func() {
		cancel()
		o.cancels.remove(id)
	}
}

func (o *Orchestrator) run(ctx context.Context, id string, plan Plan) (response domain.QueryResponse) {
	start := o.now()
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("[orchestrator] panic while running request %s: %v", id, rec)
			response = domain.QueryResponse{
				RequestID: id,
				Status:    domain.ExecutionStateError,
				Results:   []domain.Row{},
				Errors:    []domain.QueryError{{Error: fmt.Sprintf("internal error: %v", rec), Timestamp: o.now()}},
			}
			response = o.finish(id, plan, response, start)
		}
	}()

	o.statuses.update(id, domain.ExecutionStateRunning, fmt.Sprintf("running on %d server(s)", len(plan.Tasks)), o.now())
	o.progress.Log(id, fmt.Sprintf("starting %s on %d server(s)", plan.label(), len(plan.Tasks)))

	tasks := plan.Tasks
	if plan.Secondary != nil {
		tasks = append(append([]Task(nil), plan.Tasks...), *plan.Secondary)
	}
	results := o.fanOut(ctx, id, tasks)

	var secondary *domain.ServerResult
	if plan.Secondary != nil {
		secondary = &results[len(results)-1]
		results = results[:len(results)-1]
	}

	response = aggregate(id, results, secondary, ctx.Err() != nil, o.now())
	if plan.Merge != nil && secondary != nil && response.Status != domain.ExecutionStateCancelled {
		var secondaryRows []domain.Row
		if secondary.Status == domain.ServerStatusSuccess {
			secondaryRows = secondary.Data
		}
		response.Results = plan.Merge(response.Results, secondaryRows)
	}
	return o.finish(id, plan, response, start)
}

// fanOut runs every task and waits for all of them. Results keep task order.
func (o *Orchestrator) fanOut(ctx context.Context, id string, tasks []Task) []domain.ServerResult {
	results := make([]domain.ServerResult, len(tasks))
	var group errgroup.Group
	group.SetLimit(o.maxConcurrent)
	for i, task := range tasks {
		group.Go(func() error {
			defer func() {
				if rec := recover(); rec != nil {
					log.Printf("[orchestrator] panic on %s for request %s: %v", task.Server.Name, id, rec)
					results[i] = domain.ServerResult{Server: task.Server.Name, Status: domain.ServerStatusError, Error: fmt.Sprintf("panic: %v", rec)}
				}
			}()
			results[i] = o.runner.Run(ctx, task.Server, task.Statement, task.Database, id)
			o.observer.ObserveServer(results[i])
			return nil
		})
	}
	_ = group.Wait()
	return results
}

// finish stores the response and logs the summary line before publishing
// the terminal status, so a terminal status always has both behind it.
func (o *Orchestrator) finish(id string, plan Plan, response domain.QueryResponse, start time.Time) domain.QueryResponse {
	completed := o.now()
	elapsed := completed.Sub(start)
	response.ExecutionTimeMs = elapsed.Milliseconds()

	summary := fmt.Sprintf("finished: status=%s rows=%d errors=%d in %dms", response.Status, response.TotalRows, len(response.Errors), response.ExecutionTimeMs)
	o.results.put(response, completed)
	o.progress.Log(id, summary)
	o.statuses.update(id, response.Status, statusMessage(response), completed)
	log.Printf("[orchestrator] request %s %s", id, summary)
	o.observer.ObserveRequest(string(plan.Mode), response.Status, elapsed)

	if o.history != nil {
		o.recordHistory(plan, response, start, completed)
	}
	return response
}

func (o *Orchestrator) recordHistory(plan Plan, response domain.QueryResponse, start, completed time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), o.historyTimeout)
	defer cancel()

	servers := len(plan.Tasks)
	if plan.Secondary != nil {
		servers++
	}
	record := domain.ExecutionRecord{
		RequestID:       response.RequestID,
		Mode:            string(plan.Mode),
		Status:          response.Status,
		Servers:         servers,
		TotalRows:       response.TotalRows,
		ErrorCount:      len(response.Errors),
		ExecutionTimeMs: response.ExecutionTimeMs,
		StartedAt:       start,
		CompletedAt:     completed,
	}
	if err := o.history.Record(ctx, record); err != nil {
		log.Printf("[orchestrator] failed to record history for %s: %v", response.RequestID, err)
	}
}

func statusMessage(response domain.QueryResponse) string {
	switch response.Status {
	case domain.ExecutionStateCancelled:
		return cancelledMessage
	case domain.ExecutionStateError, domain.ExecutionStateCompletedWithErrors:
		return fmt.Sprintf("%d server(s) failed", len(response.Errors))
	default:
		return fmt.Sprintf("%d rows", response.TotalRows)
	}
}

// Cancel signals the request's cancellation. Unknown or finished ids are a
// no-op; the return value reports whether anything was signalled.
func (o *Orchestrator) Cancel(id string) bool {
	if !o.cancels.cancel(id) {
		return false
	}
	o.progress.Log(id, "cancellation requested")
	log.Printf("[orchestrator] cancellation requested for %s", id)
	return true
}

// CancelAll signals every in-flight request and clears the registry.
func (o *Orchestrator) CancelAll() int {
	count := o.cancels.cancelAll()
	if count > 0 {
		log.Printf("[orchestrator] cancelled %d request(s)", count)
	}
	return count
}

// Running lists request ids that have not reached a terminal state.
func (o *Orchestrator) Running() []string {
	return o.cancels.ids()
}

func (o *Orchestrator) Status(id string) (domain.ExecutionStatus, bool) {
	return o.statuses.get(id)
}

// Result returns the terminal response for id. Requests still in flight are
// reported as not found.
func (o *Orchestrator) Result(id string) (domain.QueryResponse, bool) {
	return o.results.get(id)
}

// Sweep evicts results and terminal statuses older than maxAge.
func (o *Orchestrator) Sweep(maxAge time.Duration) int {
	cutoff := o.now().Add(-maxAge)
	removed := o.results.sweep(cutoff)
	o.statuses.sweep(cutoff)
	return removed
}
