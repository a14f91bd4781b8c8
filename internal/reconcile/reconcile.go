// Package reconcile joins two independently fetched balance sets by
// (entity, account) and computes their difference.
//
// The primary set drives the output: every primary key yields exactly one
// reconciled row and keys present only on the secondary side are dropped.
package reconcile

import (
	"strings"

	"github.com/rpattn/fleetquery/internal/domain"
)

// Balance is one keyed amount of either side.
type Balance struct {
	Entity  string
	Account string
	Value   float64
}

type key struct {
	entity  string
	account string
}

func keyOf(entity, account string) key {
	return key{entity: strings.TrimSpace(entity), account: strings.TrimSpace(account)}
}

// Reconcile attaches to each primary balance the sum of the secondary
// balances sharing its key (0 when none) and the difference
// secondary - primary.
func Reconcile(primary, secondary []Balance) []domain.ReconciledRow {
	lookup := sumByKey(secondary)

	out := make([]domain.ReconciledRow, 0, len(primary))
	for _, p := range primary {
		matched := lookup[keyOf(p.Entity, p.Account)]
		out = append(out, domain.ReconciledRow{
			Entity:     p.Entity,
			Account:    p.Account,
			Primary:    p.Value,
			Secondary:  matched,
			Difference: matched - p.Value,
		})
	}
	return out
}

func sumByKey(balances []Balance) map[key]float64 {
	sums := make(map[key]float64, len(balances))
	for _, b := range balances {
		sums[keyOf(b.Entity, b.Account)] += b.Value
	}
	return sums
}

// Columns names the row columns that carry the join key and the amounts.
type Columns struct {
	Entity         string
	Account        string
	PrimaryValue   string
	SecondaryValue string
	Difference     string
}

// Balances extracts balances from rows. secondary selects which value column
// is read. Non-numeric or null amounts count as 0.
func (c Columns) Balances(rows []domain.Row, secondary bool) []Balance {
	valueColumn := c.PrimaryValue
	if secondary {
		valueColumn = c.SecondaryValue
	}
	balances := make([]Balance, 0, len(rows))
	for _, row := range rows {
		balances = append(balances, Balance{
			Entity:  text(row, c.Entity),
			Account: text(row, c.Account),
			Value:   number(row, valueColumn),
		})
	}
	return balances
}

// Merge returns the primary rows extended with the secondary amount and the
// difference columns. Input rows are not modified.
func (c Columns) Merge(primary, secondary []domain.Row) []domain.Row {
	reconciled := Reconcile(c.Balances(primary, false), c.Balances(secondary, true))

	merged := make([]domain.Row, len(primary))
	for i, row := range primary {
		out := row.Clone()
		out.Set(c.SecondaryValue, domain.DecimalValue(reconciled[i].Secondary))
		out.Set(c.Difference, domain.DecimalValue(reconciled[i].Difference))
		merged[i] = out
	}
	return merged
}

func text(row domain.Row, column string) string {
	value, ok := row.Get(column)
	if !ok {
		return ""
	}
	return value.String()
}

func number(row domain.Row, column string) float64 {
	value, ok := row.Get(column)
	if !ok {
		return 0
	}
	f, _ := value.Float64()
	return f
}
