package db

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/rpattn/fleetquery/internal/domain"
)

// ToValue converts a driver value into the row value union. Types without a
// dedicated variant fall back to their text form.
func ToValue(cell any) domain.Value {
	switch v := cell.(type) {
	case nil:
		return domain.NullValue()
	case string:
		return domain.TextValue(v)
	case []byte:
		return domain.TextValue(string(v))
	case int:
		return domain.IntegerValue(int64(v))
	case int8:
		return domain.IntegerValue(int64(v))
	case int16:
		return domain.IntegerValue(int64(v))
	case int32:
		return domain.IntegerValue(int64(v))
	case int64:
		return domain.IntegerValue(v)
	case uint8:
		return domain.IntegerValue(int64(v))
	case uint16:
		return domain.IntegerValue(int64(v))
	case uint32:
		return domain.IntegerValue(int64(v))
	case uint:
		return unsignedValue(uint64(v))
	case uint64:
		return unsignedValue(v)
	case float32:
		return domain.DecimalValue(float64(v))
	case float64:
		return domain.DecimalValue(v)
	case bool:
		return domain.BooleanValue(v)
	case time.Time:
		return domain.TimestampValue(v)
	case pgtype.Numeric:
		if !v.Valid {
			return domain.NullValue()
		}
		f, err := v.Float64Value()
		if err != nil || !f.Valid {
			return domain.NullValue()
		}
		return domain.DecimalValue(f.Float64)
	case pgtype.Date:
		if !v.Valid {
			return domain.NullValue()
		}
		return domain.TimestampValue(v.Time)
	case fmt.Stringer:
		return domain.TextValue(v.String())
	default:
		return domain.TextValue(fmt.Sprint(v))
	}
}

// unsignedValue keeps v an integer when it fits; larger values are kept
// exactly as text.
func unsignedValue(v uint64) domain.Value {
	if v > math.MaxInt64 {
		return domain.TextValue(strconv.FormatUint(v, 10))
	}
	return domain.IntegerValue(int64(v))
}

// ToValueTyped is ToValue with the database type name available, so
// decimals delivered as bytes keep their numeric kind.
func ToValueTyped(cell any, typeName string) domain.Value {
	switch typeName {
	case "DECIMAL", "NUMERIC", "MONEY", "SMALLMONEY":
		var text string
		switch v := cell.(type) {
		case []byte:
			text = string(v)
		case string:
			text = v
		default:
			return ToValue(cell)
		}
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return domain.TextValue(text)
		}
		return domain.DecimalValue(f)
	}
	return ToValue(cell)
}
