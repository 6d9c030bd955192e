package qdrant

import (
	"fmt"
	"sort"
	"strings"
)

const (
	filterOpIn = "$in"
	filterOpEq = "$eq"
	filterOpNe = "$ne"
)

type translatedFilter struct {
	Must    []any
	MustNot []any
}

func (f translatedFilter) asMap() map[string]any {
	out := map[string]any{}
	if len(f.Must) > 0 {
		out["must"] = f.Must
	}
	if len(f.MustNot) > 0 {
		out["must_not"] = f.MustNot
	}
	return out
}

// translateFilterMap turns the portable filter shape used by callers
// ({"field": value} and {"field": {"$eq"/"$ne"/"$in": ...}}) into qdrant
// filter conditions. Keys are walked in sorted order so request bodies are
// deterministic.
func translateFilterMap(filter map[string]any) (translatedFilter, error) {
	out := translatedFilter{}
	if len(filter) == 0 {
		return out, nil
	}

	keys := make([]string, 0, len(filter))
	for key := range filter {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		field := strings.TrimSpace(key)
		if field == "" {
			continue
		}
		if strings.HasPrefix(field, "$") {
			return translatedFilter{}, opErr(
				"filter_translate",
				OperationErrorUnsupportedFilter,
				fmt.Sprintf("unsupported top-level filter operator %q", field),
				nil,
			)
		}

		switch typed := filter[key].(type) {
		case map[string]any:
			ops := make([]string, 0, len(typed))
			for op := range typed {
				ops = append(ops, op)
			}
			sort.Strings(ops)
			for _, op := range ops {
				opVal := typed[op]
				switch strings.ToLower(strings.TrimSpace(op)) {
				case filterOpEq:
					out.Must = append(out.Must, matchCondition(field, opVal))
				case filterOpNe:
					out.MustNot = append(out.MustNot, matchCondition(field, opVal))
				case filterOpIn:
					values, err := toAnySlice(opVal)
					if err != nil || len(values) == 0 {
						return translatedFilter{}, opErr(
							"filter_translate",
							OperationErrorValidation,
							fmt.Sprintf("operator %s for field %q expects non-empty scalar array", filterOpIn, field),
							err,
						)
					}
					out.Must = append(out.Must, map[string]any{
						"key":   field,
						"match": map[string]any{"any": values},
					})
				default:
					return translatedFilter{}, opErr(
						"filter_translate",
						OperationErrorUnsupportedFilter,
						fmt.Sprintf("unsupported filter operator %q for field %q", op, field),
						nil,
					)
				}
			}
		default:
			out.Must = append(out.Must, matchCondition(field, typed))
		}
	}
	return out, nil
}

func matchCondition(key string, value any) map[string]any {
	return map[string]any{
		"key": key,
		"match": map[string]any{
			"value": value,
		},
	}
}

func toAnySlice(value any) ([]any, error) {
	switch typed := value.(type) {
	case []any:
		return typed, nil
	case []string:
		out := make([]any, 0, len(typed))
		for _, v := range typed {
			out = append(out, v)
		}
		return out, nil
	case []int64:
		out := make([]any, 0, len(typed))
		for _, v := range typed {
			out = append(out, v)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected scalar array, got %T", value)
	}
}
