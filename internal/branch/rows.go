package branch

import (
	"database/sql"
	"time"
)

// scanRowMaps drains *sql.Rows into generic row maps. MySQL drivers hand
// back []byte for text columns, which is converted to string so the maps
// survive JSON encoding and map key comparisons.
func scanRowMaps(rows *sql.Rows) ([]RowMap, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	out := make([]RowMap, 0, 16)
	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(RowMap, len(cols))
		for i, col := range cols {
			row[col] = normalizeValue(values[i])
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func normalizeValue(v any) any {
	switch val := v.(type) {
	case []byte:
		return string(val)
	case time.Time:
		return val
	default:
		return v
	}
}
