package condition

import "fmt"

// FromMap builds a QueryCondition from a generically-decoded JSON value
// (map[string]interface{}, as produced by encoding/json or a driver row),
// mirroring httpapi's conditionDTO wire shape: {and, or, sorts, group_by,
// paging}. It exists so engine-level callers — save_batch's embedded _cond
// chief among them — can parse a condition payload without importing
// httpapi's DTO types.
func FromMap(raw interface{}) (*QueryCondition, error) {
	if raw == nil {
		return nil, nil
	}
	m, ok := raw.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("condition: expected an object, got %T", raw)
	}

	qc := &QueryCondition{}
	var err error
	if qc.And, err = itemsFromAny(m["and"]); err != nil {
		return nil, err
	}
	if qc.Or, err = itemsFromAny(m["or"]); err != nil {
		return nil, err
	}
	if qc.Sorts, err = sortsFromAny(m["sorts"]); err != nil {
		return nil, err
	}
	if gb, ok := m["group_by"]; ok {
		sorts, err := sortsFromAny(gb)
		if err != nil {
			return nil, err
		}
		for _, s := range sorts {
			qc.GroupBy = append(qc.GroupBy, s.Field)
		}
	}
	if p, ok := m["paging"]; ok && p != nil {
		pm, ok := p.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("condition: paging must be an object")
		}
		qc.Paging = &Paging{PageNo: intOf(pm["current"]), PageSize: intOf(pm["size"])}
	}
	return qc, nil
}

func itemsFromAny(raw interface{}) ([]ConditionItem, error) {
	if raw == nil {
		return nil, nil
	}
	list, ok := raw.([]interface{})
	if !ok {
		return nil, fmt.Errorf("condition: expected an array, got %T", raw)
	}
	out := make([]ConditionItem, 0, len(list))
	for _, e := range list {
		item, err := itemFromMap(e)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}

func itemFromMap(raw interface{}) (ConditionItem, error) {
	m, ok := raw.(map[string]interface{})
	if !ok {
		return ConditionItem{}, fmt.Errorf("condition: expected a condition object, got %T", raw)
	}
	item := ConditionItem{
		Field:    stringOf(m["field"]),
		Operator: stringOf(m["op"]),
		Value:    m["value"],
		Value2:   m["value2"],
	}
	var err error
	if item.And, err = itemsFromAny(m["and"]); err != nil {
		return ConditionItem{}, err
	}
	if item.Or, err = itemsFromAny(m["or"]); err != nil {
		return ConditionItem{}, err
	}
	return item, nil
}

func sortsFromAny(raw interface{}) ([]SortItem, error) {
	if raw == nil {
		return nil, nil
	}
	list, ok := raw.([]interface{})
	if !ok {
		return nil, fmt.Errorf("condition: expected an array, got %T", raw)
	}
	out := make([]SortItem, 0, len(list))
	for _, e := range list {
		m, ok := e.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("condition: expected a sort object, got %T", e)
		}
		asc, _ := m["sort_asc"].(bool)
		out = append(out, SortItem{Field: stringOf(m["field"]), Desc: !asc})
	}
	return out, nil
}

func stringOf(v interface{}) string {
	s, _ := v.(string)
	return s
}

func intOf(v interface{}) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case int64:
		return int(n)
	default:
		return 0
	}
}
