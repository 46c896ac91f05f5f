package storage

import (
	"encoding/json"
	"sort"

	"github.com/meridian-sync/meridian/pkg/types"
)

// evaluateQuery is a pure, in-process filter/sort/limit pipeline over a
// repository's current record rows. There is no query language to
// parse: q is already the compiled filter/sort/page struct.
func evaluateQuery(records []types.Record, q types.Query) []types.Record {
	filtered := make([]types.Record, 0, len(records))
	for _, rec := range records {
		if rec.Deleted && !q.IncludeDeleted {
			continue
		}
		if matchesAll(rec, q.Filters) {
			filtered = append(filtered, rec)
		}
	}

	if len(q.Sort) > 0 {
		sort.SliceStable(filtered, func(i, j int) bool {
			return less(filtered[i], filtered[j], q.Sort)
		})
	}

	if q.Offset > 0 {
		if q.Offset >= len(filtered) {
			return []types.Record{}
		}
		filtered = filtered[q.Offset:]
	}
	if q.Limit > 0 && q.Limit < len(filtered) {
		filtered = filtered[:q.Limit]
	}
	return filtered
}

func matchesAll(rec types.Record, filters []types.Filter) bool {
	for _, f := range filters {
		if !matches(rec, f) {
			return false
		}
	}
	return true
}

func matches(rec types.Record, f types.Filter) bool {
	val, present := fieldValue(rec, f.Field)

	switch f.Op {
	case types.OpIsNull:
		return !present || val == nil
	case types.OpIsNotNul:
		return present && val != nil
	case types.OpIn:
		set, ok := f.Value.([]interface{})
		if !ok || len(set) == 0 {
			return false
		}
		for _, v := range set {
			if compareEqual(val, v) {
				return true
			}
		}
		return false
	case types.OpNotIn:
		set, ok := f.Value.([]interface{})
		if !ok {
			return true
		}
		for _, v := range set {
			if compareEqual(val, v) {
				return false
			}
		}
		return true
	}

	if !present {
		return false
	}

	switch f.Op {
	case types.OpEq:
		return compareEqual(val, f.Value)
	case types.OpNeq:
		return !compareEqual(val, f.Value)
	case types.OpLt:
		return compareOrdered(val, f.Value) < 0
	case types.OpLte:
		return compareOrdered(val, f.Value) <= 0
	case types.OpGt:
		return compareOrdered(val, f.Value) > 0
	case types.OpGte:
		return compareOrdered(val, f.Value) >= 0
	default:
		return false
	}
}

// fieldValue reads a field out of the record's decoded JSON payload.
// Indexed and unindexed fields are both stored inside Data, so both
// are read the same way here.
func fieldValue(rec types.Record, field string) (interface{}, bool) {
	if len(rec.Data) == 0 {
		return nil, false
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(rec.Data, &doc); err != nil {
		return nil, false
	}
	v, ok := doc[field]
	return v, ok
}

func compareEqual(a, b interface{}) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af == bf
	}
	return a == b
}

// compareOrdered returns -1/0/1 comparing a to b, supporting numeric
// and string comparisons.
func compareOrdered(a, b interface{}) int {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			switch {
			case af < bf:
				return -1
			case af > bf:
				return 1
			default:
				return 0
			}
		}
	}

	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		switch {
		case as < bs:
			return -1
		case as > bs:
			return 1
		default:
			return 0
		}
	}
	return 0
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func less(a, b types.Record, keys []types.SortKey) bool {
	for _, k := range keys {
		av, _ := fieldValue(a, k.Field)
		bv, _ := fieldValue(b, k.Field)
		cmp := compareOrdered(av, bv)
		if cmp == 0 {
			continue
		}
		if k.Direction == types.SortDesc {
			return cmp > 0
		}
		return cmp < 0
	}
	return false
}
