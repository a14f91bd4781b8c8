package reports

import (
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/rpattn/fleetquery/internal/domain"
)

var displayNames = map[string]string{
	"IDEntidade":           "Entidade",
	"entity_code":          "Entidade",
	"entidade":             "Entidade",
	"DataLote":             "Data do Lote",
	"date_in":              "Data Entrada",
	"date_out":             "Data Saída",
	"date":                 "Data",
	"Type_Document":        "Tipo de Lote",
	"TipoLote":             "Tipo de Lote",
	"NúmeroLote":           "Número do Lote",
	"NomeLote":             "Nome do Lote",
	"code":                 "Código",
	"char_0":               "Descrição",
	"reference":            "Lote",
	"year":                 "Ano",
	"period":               "Período",
	"Periodo":              "Período",
	"Mes":                  "Mês",
	"usuariocriado":        "Criado Por",
	"QuemCriou":            "Criado Por",
	"IDConta":              "Código Conta",
	"chart_code":           "Código Conta",
	"CodigoConta":          "Código Conta",
	"chart_name":           "Nome da Conta",
	"NomeConta":            "Nome da Conta",
	"IDSubConta":           "Código SubConta",
	"tag_code":             "Código SubConta",
	"tag_name":             "Nome SubConta",
	"SubContaNome":         "Nome SubConta",
	"IDFundo":              "Código Fundo",
	"fund_code":            "Código Fundo",
	"fund_name":            "Nome do Fundo",
	"IDDepartamento":       "Código Depto",
	"department_code":      "Código Depto",
	"NomeDepartamento":     "Nome Departamento",
	"department_name":      "Nome Departamento",
	"Saldo_Legal":          "Saldo",
	"value":                "Valor",
	"ValorNum":             "Valor",
	"Totalizador":          "Total",
	"saldo_totalAPS":       "Saldo APS",
	"saldo_totalAASI":      "Saldo AASI",
	"Diferenca":            "Diferença",
	"Codigo":               "Código",
	"Descricao":            "Descrição",
	"DescricaoAdicional":   "Descrição Adicional",
	"Secao":                "Seção",
	"section":              "Seção",
	"NF_Numero":            "Número NF",
	"fa_char_0":            "Número NF",
	"fa_char_1":            "Descrição Adicional",
	"name":                 "Nome",
	"DataBaixa":            "Data da Baixa",
	"DepreciacaoAcumulada": "Depreciação Acumulada",
	"ValorLiquido":         "Valor Líquido",
}

var textDateLayouts = []string{"2006-01-02 15:04:05", "2006-01-02T15:04:05", "2006-01-02"}

var ptBR = message.NewPrinter(language.BrazilianPortuguese)

// DisplayName returns the presentation name of a result column. Unknown
// columns keep their name.
func DisplayName(column string) string {
	if name, ok := displayNames[column]; ok {
		return name
	}
	return column
}

// FormatRows renames columns and renders every value as display text.
// Columns that rename onto the same display name collapse into one.
func FormatRows(rows []domain.Row) []domain.Row {
	out := make([]domain.Row, 0, len(rows))
	for _, row := range rows {
		var formatted domain.Row
		for _, column := range row.Columns() {
			value, _ := row.Get(column)
			formatted.Set(DisplayName(column), domain.TextValue(FormatValue(column, value)))
		}
		out = append(out, formatted)
	}
	return out
}

// FormatValue renders value for column: dates as dd/MM/yyyy and amounts
// as 1.234,56. Nulls render empty.
func FormatValue(column string, value domain.Value) string {
	if value.IsNull() {
		return ""
	}
	switch {
	case value.Kind == domain.ValueTimestamp:
		return value.Time.Format("02/01/2006")
	case isDateColumn(column):
		return formatDate(value)
	case isMoneyColumn(column), value.Kind == domain.ValueDecimal:
		if f, ok := value.Float64(); ok {
			return FormatDecimal(f)
		}
	}
	return value.String()
}

// FormatDecimal renders f with two decimals and pt-BR separators.
func FormatDecimal(f float64) string {
	return ptBR.Sprintf("%.2f", f)
}

func formatDate(value domain.Value) string {
	text := value.String()
	if value.Kind != domain.ValueText {
		return text
	}
	trimmed, _, _ := strings.Cut(text, ".")
	for _, layout := range textDateLayouts {
		if t, err := time.Parse(layout, trimmed); err == nil {
			return t.Format("02/01/2006")
		}
	}
	return text
}

func isDateColumn(column string) bool {
	lower := strings.ToLower(column)
	return strings.Contains(lower, "data") || strings.Contains(lower, "date")
}

func isMoneyColumn(column string) bool {
	lower := strings.ToLower(column)
	for _, marker := range []string{"valor", "saldo", "total", "diferenca", "value"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
