// Package export renders stored query results as CSV or XLSX payloads.
package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/rpattn/fleetquery/internal/domain"
)

type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

const (
	defaultBaseName  = "consulta"
	defaultSheetName = "Consulta"
	timestampLayout  = "2006-01-02 15:04:05"
	maxColumnWidth   = 60
)

// ParseFormat accepts csv and xlsx in any case.
func ParseFormat(value string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(value))) {
	case FormatCSV:
		return FormatCSV, nil
	case FormatXLSX:
		return FormatXLSX, nil
	default:
		return "", fmt.Errorf("%q: %w", value, domain.ErrUnsupportedFormat)
	}
}

// ContentType returns the MIME type served for format.
func ContentType(format Format) string {
	switch format {
	case FormatCSV:
		return "text/csv"
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "application/octet-stream"
	}
}

// FileName builds name_YYYYMMDD_HHMMSS.ext from a sanitized base name.
func FileName(format Format, baseName string, now time.Time) string {
	base := sanitizeFileComponent(baseName)
	if base == "" {
		base = defaultBaseName
	}
	return fmt.Sprintf("%s_%s.%s", base, now.Format("20060102_150405"), format)
}

// ResultSource looks up the terminal response of a request id.
type ResultSource interface {
	Result(id string) (domain.QueryResponse, bool)
}

// File is an exported payload ready to be served or uploaded.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

type Service struct {
	results   ResultSource
	sheetName string
	now       func() time.Time
}

type Option func(*Service)

func WithSheetName(name string) Option {
	return func(s *Service) {
		if strings.TrimSpace(name) != "" {
			s.sheetName = name
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func NewService(results ResultSource, opts ...Option) *Service {
	service := &Service{
		results:   results,
		sheetName: defaultSheetName,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(service)
	}
	return service
}

// Export renders the stored result of requestID. baseName defaults to
// "consulta".
func (s *Service) Export(requestID string, format Format, baseName string) (File, error) {
	response, ok := s.results.Result(requestID)
	if !ok {
		return File{}, fmt.Errorf("request %s: %w", requestID, domain.ErrResultNotFound)
	}
	return s.Render(response.Results, format, baseName)
}

// Render encodes rows in format.
func (s *Service) Render(rows []domain.Row, format Format, baseName string) (File, error) {
	var (
		data []byte
		err  error
	)
	switch format {
	case FormatCSV:
		data, err = CSV(rows)
	case FormatXLSX:
		data, err = XLSX(rows, s.sheetName)
	default:
		return File{}, fmt.Errorf("%q: %w", format, domain.ErrUnsupportedFormat)
	}
	if err != nil {
		return File{}, err
	}
	return File{
		Name:        FileName(format, baseName, s.now()),
		ContentType: ContentType(format),
		Data:        data,
	}, nil
}

// CSV writes a header taken from the first row followed by one record per
// row. An empty row set yields an empty payload.
func CSV(rows []domain.Row) ([]byte, error) {
	if len(rows) == 0 {
		return []byte{}, nil
	}
	headers := rows[0].Columns()

	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	if err := writer.Write(headers); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	record := make([]string, len(headers))
	for _, row := range rows {
		for i, header := range headers {
			value, _ := row.Get(header)
			record[i] = formatValue(value)
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("write csv record: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

// XLSX writes one sheet with a bold header row. Numbers and timestamps keep
// their native cell types. An empty row set yields a workbook with an empty
// sheet.
func XLSX(rows []domain.Row, sheetName string) ([]byte, error) {
	if strings.TrimSpace(sheetName) == "" {
		sheetName = defaultSheetName
	}
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), sheetName); err != nil {
		return nil, fmt.Errorf("name sheet: %w", err)
	}

	if len(rows) > 0 {
		if err := writeSheet(f, sheetName, rows); err != nil {
			return nil, err
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func writeSheet(f *excelize.File, sheet string, rows []domain.Row) error {
	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"D3D3D3"}},
	})
	if err != nil {
		return fmt.Errorf("header style: %w", err)
	}
	dateFormat := "yyyy-mm-dd hh:mm:ss"
	dateStyle, err := f.NewStyle(&excelize.Style{CustomNumFmt: &dateFormat})
	if err != nil {
		return fmt.Errorf("date style: %w", err)
	}

	headers := rows[0].Columns()
	widths := make([]int, len(headers))
	for col, header := range headers {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, header); err != nil {
			return fmt.Errorf("write header %s: %w", header, err)
		}
		if err := f.SetCellStyle(sheet, cell, cell, headerStyle); err != nil {
			return fmt.Errorf("style header %s: %w", header, err)
		}
		widths[col] = len(header)
	}

	for r, row := range rows {
		for col, header := range headers {
			cell, err := excelize.CoordinatesToCellName(col+1, r+2)
			if err != nil {
				return err
			}
			value, _ := row.Get(header)
			if err := f.SetCellValue(sheet, cell, cellValue(value)); err != nil {
				return fmt.Errorf("write cell %s: %w", cell, err)
			}
			if value.Kind == domain.ValueTimestamp {
				if err := f.SetCellStyle(sheet, cell, cell, dateStyle); err != nil {
					return fmt.Errorf("style cell %s: %w", cell, err)
				}
			}
			if n := len(formatValue(value)); n > widths[col] {
				widths[col] = n
			}
		}
	}

	for col, width := range widths {
		name, err := excelize.ColumnNumberToName(col + 1)
		if err != nil {
			return err
		}
		if width > maxColumnWidth {
			width = maxColumnWidth
		}
		if err := f.SetColWidth(sheet, name, name, float64(width+2)); err != nil {
			return fmt.Errorf("column width %s: %w", name, err)
		}
	}
	return nil
}

func cellValue(value domain.Value) any {
	switch value.Kind {
	case domain.ValueNull:
		return ""
	case domain.ValueInteger:
		return value.Integer
	case domain.ValueDecimal:
		return value.Decimal
	case domain.ValueTimestamp:
		return value.Time
	case domain.ValueBoolean:
		return value.Bool
	default:
		return value.Text
	}
}

func formatValue(value domain.Value) string {
	if value.Kind == domain.ValueTimestamp {
		return value.Time.Format(timestampLayout)
	}
	return value.String()
}

func sanitizeFileComponent(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return ""
	}
	builder := strings.Builder{}
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z':
			builder.WriteRune(r)
		case r >= '0' && r <= '9':
			builder.WriteRune(r)
		case r == '-' || r == '_':
			builder.WriteRune(r)
		default:
			builder.WriteRune('-')
		}
	}
	return strings.Trim(builder.String(), "-")
}
