package domain

import (
	"time"
)

// ExecutionState captures the lifecycle of a request id.
type ExecutionState string

const (
	ExecutionStatePending             ExecutionState = "pending"
	ExecutionStateRunning             ExecutionState = "running"
	ExecutionStateCompleted           ExecutionState = "completed"
	ExecutionStateCompletedWithErrors ExecutionState = "completed_with_errors"
	ExecutionStateError               ExecutionState = "error"
	ExecutionStateCancelled           ExecutionState = "cancelled"
)

// Terminal reports whether no further transition is allowed out of the state.
func (s ExecutionState) Terminal() bool {
	switch s {
	case ExecutionStateCompleted, ExecutionStateCompletedWithErrors, ExecutionStateError, ExecutionStateCancelled:
		return true
	default:
		return false
	}
}

// ServerStatus is the outcome of one server's share of a request.
type ServerStatus string

const (
	ServerStatusRunning   ServerStatus = "running"
	ServerStatusSuccess   ServerStatus = "success"
	ServerStatusError     ServerStatus = "error"
	ServerStatusCancelled ServerStatus = "cancelled"
)

// ServerDescriptor identifies one database server of the fleet. Descriptors
// are immutable after configuration is loaded.
type ServerDescriptor struct {
	Name            string `json:"name" mapstructure:"name"`
	Host            string `json:"host" mapstructure:"host"`
	Port            int    `json:"port" mapstructure:"port"`
	Driver          string `json:"driver" mapstructure:"driver"`
	DefaultDatabase string `json:"default_database" mapstructure:"default_database"`
	User            string `json:"-" mapstructure:"user"`
	Password        string `json:"-" mapstructure:"password"`
}

// TemplateParameters is the typed parameter bag accepted by report templates.
type TemplateParameters struct {
	Entity     string `json:"entity,omitempty"`
	Year       *int   `json:"year,omitempty"`
	Period     *int   `json:"period,omitempty"`
	MonthsBack *int   `json:"months_back,omitempty"`
	CutoffDate string `json:"cutoff_date,omitempty"`
}

// AsMap exposes the set parameters keyed by their wire names.
func (p TemplateParameters) AsMap() map[string]any {
	values := map[string]any{}
	if p.Entity != "" {
		values["entity"] = p.Entity
	}
	if p.Year != nil {
		values["year"] = *p.Year
	}
	if p.Period != nil {
		values["period"] = *p.Period
	}
	if p.MonthsBack != nil {
		values["months_back"] = *p.MonthsBack
	}
	if p.CutoffDate != "" {
		values["cutoff_date"] = p.CutoffDate
	}
	return values
}

// QueryRequest runs one statement on one server.
type QueryRequest struct {
	Query    string `json:"query"`
	Server   string `json:"server,omitempty"`
	Database string `json:"database,omitempty"`
}

// MultiServerQueryRequest runs one statement, raw or templated, across a
// subset of the fleet. An empty Servers list targets the whole fleet.
type MultiServerQueryRequest struct {
	Query      string             `json:"query,omitempty"`
	Template   string             `json:"template,omitempty"`
	Parameters TemplateParameters `json:"parameters"`
	Database   string             `json:"database,omitempty"`
	Servers    []string           `json:"servers,omitempty"`
}

// ExecutionStatus is the status record kept per request id.
type ExecutionStatus struct {
	RequestID   string         `json:"request_id"`
	Status      ExecutionState `json:"status"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Progress    int            `json:"progress"`
	Message     string         `json:"message,omitempty"`
}

// ServerResult is the outcome of running a statement on one server.
type ServerResult struct {
	Server          string       `json:"server"`
	Status          ServerStatus `json:"status"`
	Rows            int          `json:"rows"`
	ExecutionTimeMs int64        `json:"execution_time_ms"`
	Error           string       `json:"error,omitempty"`
	Data            []Row        `json:"data,omitempty"`
}

// QueryError records one server's failure inside an aggregated response.
type QueryError struct {
	Server    string    `json:"server,omitempty"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// QueryResponse is the aggregated answer for a request id.
type QueryResponse struct {
	RequestID       string                  `json:"request_id"`
	Status          ExecutionState          `json:"status"`
	TotalRows       int                     `json:"total_rows"`
	ExecutionTimeMs int64                   `json:"execution_time_ms"`
	Results         []Row                   `json:"results"`
	Errors          []QueryError            `json:"errors"`
	ServerResults   map[string]ServerResult `json:"server_results,omitempty"`
	// Secondary carries the comparison-side fetch of a reconciled response.
	Secondary *ServerResult `json:"secondary_result,omitempty"`
}

// ReconciledRow joins a primary and a secondary balance by (entity, account).
type ReconciledRow struct {
	Entity     string  `json:"entity"`
	Account    string  `json:"account"`
	Primary    float64 `json:"primary"`
	Secondary  float64 `json:"secondary"`
	Difference float64 `json:"difference"`
}

// ExecutionRecord is the persisted summary of a finished request.
type ExecutionRecord struct {
	RequestID       string         `json:"request_id"`
	Mode            string         `json:"mode"`
	Status          ExecutionState `json:"status"`
	Servers         int            `json:"servers"`
	TotalRows       int            `json:"total_rows"`
	ErrorCount      int            `json:"error_count"`
	ExecutionTimeMs int64          `json:"execution_time_ms"`
	StartedAt       time.Time      `json:"started_at"`
	CompletedAt     time.Time      `json:"completed_at"`
}
