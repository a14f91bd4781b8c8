package templates

import (
	"embed"
	"fmt"
	"strings"

	"github.com/rpattn/fleetquery/internal/domain"
	"github.com/rpattn/fleetquery/pkg/validator"
)

//go:embed sql/*.sql
var sqlFiles embed.FS

// ExecutionMode says how a report is dispatched across the fleet.
type ExecutionMode string

const (
	ModeSingleServer  ExecutionMode = "single_server"
	ModeMultiServer   ExecutionMode = "multi_server"
	ModeMultiDatabase ExecutionMode = "multi_database"
)

// Comparison describes the secondary fetch of a multi_database report and
// the columns used to reconcile it against the primary fan-out.
type Comparison struct {
	SQL                  string
	Database             string
	Host                 string
	EntityColumn         string
	AccountColumn        string
	PrimaryValueColumn   string
	SecondaryValueColumn string
	DifferenceColumn     string
}

// ReportDefinition is one entry of the report catalog.
type ReportDefinition struct {
	ID             string        `json:"id"`
	Name           string        `json:"name"`
	Description    string        `json:"description"`
	Mode           ExecutionMode `json:"mode"`
	RequiresEntity bool          `json:"requires_entity"`
	RequiresYear   bool          `json:"requires_year"`
	RequiresPeriod bool          `json:"requires_period"`
	Database       string        `json:"database"`
	SQL            string        `json:"-"`
	Comparison     *Comparison   `json:"-"`
}

// Parameters returns the validation rules for the report's parameter bag.
func (d ReportDefinition) Parameters() map[string]validator.FieldDefinition {
	return map[string]validator.FieldDefinition{
		"entity":      {Type: validator.FieldTypeString, Required: d.RequiresEntity, Validation: map[string]any{"max_length": 10}},
		"year":        {Type: validator.FieldTypeInteger, Required: d.RequiresYear, Validation: map[string]any{"min": 2000, "max": 2100}},
		"period":      {Type: validator.FieldTypeInteger, Required: d.RequiresPeriod, Validation: map[string]any{"min": 0, "max": 13}},
		"months_back": {Type: validator.FieldTypeInteger, Validation: map[string]any{"min": 0, "max": 120}},
		"cutoff_date": {Type: validator.FieldTypeDate},
	}
}

// Validate rejects parameter bags that do not satisfy the report.
func (d ReportDefinition) Validate(params domain.TemplateParameters) error {
	result := validator.NewParameterValidator().ValidateProperties(params.AsMap(), d.Parameters())
	if result.IsValid {
		return nil
	}
	return &domain.ValidationError{
		Field:   result.Errors[0].Field,
		Message: fmt.Sprintf("report %s: %s", d.ID, result.Error()),
	}
}

// Catalog is the ordered, read-only set of report definitions.
type Catalog struct {
	reports []ReportDefinition
	index   map[string]int
}

// NewCatalog builds a catalog from definitions, rejecting duplicate ids.
func NewCatalog(reports []ReportDefinition) (*Catalog, error) {
	c := &Catalog{
		reports: make([]ReportDefinition, 0, len(reports)),
		index:   make(map[string]int, len(reports)),
	}
	for _, report := range reports {
		if report.ID == "" || strings.TrimSpace(report.SQL) == "" {
			return nil, fmt.Errorf("report %q: id and sql are required", report.ID)
		}
		if _, dup := c.index[report.ID]; dup {
			return nil, fmt.Errorf("report %q defined twice", report.ID)
		}
		c.index[report.ID] = len(c.reports)
		c.reports = append(c.reports, report)
	}
	return c, nil
}

// Get returns the definition with the given id.
func (c *Catalog) Get(id string) (ReportDefinition, error) {
	idx, ok := c.index[id]
	if !ok {
		return ReportDefinition{}, fmt.Errorf("report %q: %w", id, domain.ErrUnknownTemplate)
	}
	return c.reports[idx], nil
}

// Resolve validates params against report id and returns its statement
// text, still carrying its tokens.
func (c *Catalog) Resolve(id string, params domain.TemplateParameters) (string, error) {
	report, err := c.Get(id)
	if err != nil {
		return "", &domain.ValidationError{Field: "template", Message: err.Error(), Err: domain.ErrUnknownTemplate}
	}
	if err := report.Validate(params); err != nil {
		return "", err
	}
	return report.SQL, nil
}

// DispatchMode returns the execution mode of report id.
func (c *Catalog) DispatchMode(id string) (string, error) {
	report, err := c.Get(id)
	if err != nil {
		return "", err
	}
	return string(report.Mode), nil
}

// List returns every definition in catalog order.
func (c *Catalog) List() []ReportDefinition {
	return append([]ReportDefinition(nil), c.reports...)
}

// DefaultCatalog returns the built-in report catalog.
func DefaultCatalog() *Catalog {
	catalog, err := NewCatalog(defaultReports())
	if err != nil {
		panic(fmt.Sprintf("templates: invalid built-in catalog: %v", err))
	}
	return catalog
}

func defaultReports() []ReportDefinition {
	return []ReportDefinition{
		{
			ID:          "lotes_sem_anexo",
			Name:        "Lotes Sem Anexo",
			Description: "Lista lotes sem anexo em todos os servidores",
			Mode:        ModeMultiServer,
			Database:    "AASI",
			SQL:         mustSQL("lotes_sem_anexo.sql"),
		},
		{
			ID:             "aquisicoes",
			Name:           "Aquisições",
			Description:    "Aquisições de imobilizado no período",
			Mode:           ModeSingleServer,
			RequiresEntity: true,
			RequiresYear:   true,
			RequiresPeriod: true,
			Database:       "AASI",
			SQL:            mustSQL("aquisicoes.sql"),
		},
		{
			ID:             "baixas",
			Name:           "Baixas",
			Description:    "Baixas de imobilizado no período",
			Mode:           ModeSingleServer,
			RequiresEntity: true,
			RequiresYear:   true,
			RequiresPeriod: true,
			Database:       "AASI",
			SQL:            mustSQL("baixas.sql"),
		},
		{
			ID:             "ficha_loja",
			Name:           "Ficha Loja",
			Description:    "Balancete consolidado por departamento",
			Mode:           ModeMultiServer,
			RequiresYear:   true,
			RequiresPeriod: true,
			Database:       "AASI",
			SQL:            mustSQL("ficha_loja.sql"),
		},
		{
			ID:             "conferencia_13",
			Name:           "Conferência 13º",
			Description:    "Compara provisão entre APS e AASI",
			Mode:           ModeMultiDatabase,
			RequiresYear:   true,
			RequiresPeriod: true,
			Database:       "AASI",
			SQL:            mustSQL("conferencia_13_aasi.sql"),
			Comparison: &Comparison{
				SQL:                  mustSQL("conferencia_13_aps.sql"),
				Database:             "Mineiracao_APS",
				Host:                 "10.31.11.2",
				EntityColumn:         "Entidade",
				AccountColumn:        "Conta",
				PrimaryValueColumn:   "saldo_totalAASI",
				SecondaryValueColumn: "saldo_totalAPS",
				DifferenceColumn:     "Diferenca",
			},
		},
		{
			ID:             "razao_subcontas",
			Name:           "Razão SubContas",
			Description:    "Razão 1139008 por subcontas",
			Mode:           ModeMultiServer,
			RequiresYear:   true,
			RequiresPeriod: true,
			Database:       "AASI",
			SQL:            mustSQL("razao_subcontas.sql"),
		},
		{
			ID:          "saldo_anterior",
			Name:        "Saldo Anterior",
			Description: "Saldo até X meses atrás",
			Mode:        ModeMultiServer,
			Database:    "AASI",
			SQL:         mustSQL("saldo_anterior.sql"),
		},
		{
			ID:          "futuro_otimizado",
			Name:        "Futuro Otimizado",
			Description: "Saldo até data limite",
			Mode:        ModeMultiServer,
			Database:    "AASI",
			SQL:         mustSQL("futuro_otimizado.sql"),
		},
	}
}

func mustSQL(name string) string {
	data, err := sqlFiles.ReadFile("sql/" + name)
	if err != nil {
		panic(fmt.Sprintf("templates: missing %s: %v", name, err))
	}
	return string(data)
}
