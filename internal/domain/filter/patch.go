package filter

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/Ayoub94x/esa-forecast-manager/internal/domain/forecast"
)

var jsonNull = []byte("null")

// ParsePatch decodes a partial query document into options. Keys that are
// absent leave their dimension untouched; keys set to null clear it.
func ParsePatch(data []byte) ([]Option, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("decoding filter patch: %w", err)
	}

	opts := make([]Option, 0, len(fields))
	for key, raw := range fields {
		opt, err := patchField(key, raw)
		if err != nil {
			return nil, fmt.Errorf("decoding filter patch field %q: %w", key, err)
		}
		opts = append(opts, opt)
	}
	return opts, nil
}

func patchField(key string, raw json.RawMessage) (Option, error) {
	null := bytes.Equal(bytes.TrimSpace(raw), jsonNull)

	switch key {
	case "date_range":
		if null {
			return WithDateRange(nil), nil
		}
		var r DateRange
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, err
		}
		return WithDateRange(&r), nil
	case "business_unit_ids", "client_ids", "user_ids":
		var ids []int64
		if !null {
			if err := json.Unmarshal(raw, &ids); err != nil {
				return nil, err
			}
		}
		switch key {
		case "business_unit_ids":
			return WithBusinessUnitIDs(ids...), nil
		case "client_ids":
			return WithClientIDs(ids...), nil
		default:
			return WithUserIDs(ids...), nil
		}
	case "statuses":
		var statuses []forecast.Status
		if !null {
			if err := json.Unmarshal(raw, &statuses); err != nil {
				return nil, err
			}
		}
		return WithStatuses(statuses...), nil
	case "countries":
		var countries []string
		if !null {
			if err := json.Unmarshal(raw, &countries); err != nil {
				return nil, err
			}
		}
		return WithCountries(countries...), nil
	case "budget_range", "forecast_range", "declared_budget_range":
		var r *NumericRange
		if !null {
			r = &NumericRange{}
			if err := json.Unmarshal(raw, r); err != nil {
				return nil, err
			}
		}
		switch key {
		case "budget_range":
			return WithBudgetRange(r), nil
		case "forecast_range":
			return WithForecastRange(r), nil
		default:
			return WithDeclaredBudgetRange(r), nil
		}
	case "text_search":
		var term string
		if !null {
			if err := json.Unmarshal(raw, &term); err != nil {
				return nil, err
			}
		}
		return WithTextSearch(term), nil
	case "limit":
		var limit int
		if err := json.Unmarshal(raw, &limit); err != nil {
			return nil, err
		}
		return WithLimit(limit), nil
	case "offset":
		var offset int
		if err := json.Unmarshal(raw, &offset); err != nil {
			return nil, err
		}
		return WithOffset(offset), nil
	case "order_by":
		var column string
		if err := json.Unmarshal(raw, &column); err != nil {
			return nil, err
		}
		return func(q *Query) { q.OrderBy = column }, nil
	case "order_direction":
		var direction Direction
		if err := json.Unmarshal(raw, &direction); err != nil {
			return nil, err
		}
		return func(q *Query) { q.OrderDirection = direction }, nil
	default:
		return nil, fmt.Errorf("unknown filter field")
	}
}
