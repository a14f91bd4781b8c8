package reconcile

import (
	"testing"

	"github.com/rpattn/fleetquery/internal/domain"
)

func TestReconcileSumsSecondaryDuplicates(t *testing.T) {
	primary := []Balance{{Entity: "E1", Account: "A1", Value: 100}}
	secondary := []Balance{
		{Entity: "E1", Account: "A1", Value: 70},
		{Entity: "E1", Account: "A1", Value: 5},
		{Entity: "E2", Account: "A1", Value: 40},
	}

	rows := Reconcile(primary, secondary)
	if len(rows) != 1 {
		t.Fatalf("expected exactly the primary row, got %+v", rows)
	}
	got := rows[0]
	if got.Entity != "E1" || got.Account != "A1" || got.Primary != 100 || got.Secondary != 75 || got.Difference != -25 {
		t.Fatalf("unexpected reconciled row: %+v", got)
	}
}

func TestReconcileMissingSecondaryIsZero(t *testing.T) {
	rows := Reconcile([]Balance{{Entity: "E9", Account: "A1", Value: 12.5}}, nil)
	if rows[0].Secondary != 0 || rows[0].Difference != -12.5 {
		t.Fatalf("expected zero match, got %+v", rows[0])
	}
}

func TestReconcileKeyIgnoresSurroundingSpace(t *testing.T) {
	rows := Reconcile(
		[]Balance{{Entity: "3011", Account: "1139008", Value: 1}},
		[]Balance{{Entity: "3011 ", Account: " 1139008", Value: 3}},
	)
	if rows[0].Secondary != 3 {
		t.Fatalf("expected trimmed keys to match, got %+v", rows[0])
	}
}

func TestColumnsMerge(t *testing.T) {
	cols := Columns{
		Entity:         "Entidade",
		Account:        "Conta",
		PrimaryValue:   "saldo_totalAASI",
		SecondaryValue: "saldo_totalAPS",
		Difference:     "Diferenca",
	}
	primary := []domain.Row{
		domain.NewRow([]string{"Entidade", "Conta", "saldo_totalAASI"},
			[]domain.Value{domain.IntegerValue(3011), domain.TextValue("1139008"), domain.DecimalValue(100)}),
		domain.NewRow([]string{"Entidade", "Conta", "saldo_totalAASI"},
			[]domain.Value{domain.IntegerValue(3013), domain.TextValue("1139008"), domain.NullValue()}),
	}
	secondary := []domain.Row{
		domain.NewRow([]string{"Entidade", "Conta", "saldo_totalAPS"},
			[]domain.Value{domain.TextValue("3011"), domain.TextValue("1139008"), domain.DecimalValue(60)}),
		domain.NewRow([]string{"Entidade", "Conta", "saldo_totalAPS"},
			[]domain.Value{domain.TextValue("3011"), domain.TextValue("1139008"), domain.TextValue("15")}),
	}

	merged := cols.Merge(primary, secondary)
	if len(merged) != 2 {
		t.Fatalf("expected one output per primary row, got %d", len(merged))
	}
	columns := merged[0].Columns()
	if len(columns) != 5 || columns[3] != "saldo_totalAPS" || columns[4] != "Diferenca" {
		t.Fatalf("unexpected column order: %v", columns)
	}
	aps, _ := merged[0].Get("saldo_totalAPS")
	diff, _ := merged[0].Get("Diferenca")
	if aps.Decimal != 75 || diff.Decimal != -25 {
		t.Fatalf("expected aps=75 diff=-25, got %v %v", aps.Decimal, diff.Decimal)
	}
	diff, _ = merged[1].Get("Diferenca")
	if diff.Decimal != 0 {
		t.Fatalf("expected null primary and no match to yield 0, got %v", diff.Decimal)
	}
	if primary[0].Len() != 3 {
		t.Fatalf("input row was modified")
	}
}
