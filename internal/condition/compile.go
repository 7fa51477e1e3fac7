package condition

import (
	"fmt"
	"strings"
)

// Compile renders the tree into a SQL fragment beginning with " where " (or
// the empty string when the tree carries no conditions) and the positional
// argument slice to bind against it. When onlyQuery is true, GROUP BY/ORDER
// BY are omitted — used when the caller only wants a COUNT(*) variant of the
// same filter.
func (qc *QueryCondition) Compile(onlyQuery bool) (string, []interface{}, error) {
	var args []interface{}
	var sb strings.Builder

	if len(qc.And) > 0 || len(qc.Or) > 0 {
		body, err := composeGroup(qc.And, qc.Or, &args)
		if err != nil {
			return "", nil, err
		}
		sb.WriteString(" where ")
		sb.WriteString(body)
	}

	if !onlyQuery {
		if len(qc.GroupBy) > 0 {
			sb.WriteString(" group by ")
			sb.WriteString(strings.Join(qc.GroupBy, ", "))
		}
		if len(qc.Sorts) > 0 {
			sb.WriteString(" order by ")
			for i, s := range qc.Sorts {
				if i > 0 {
					sb.WriteString(", ")
				}
				sb.WriteString(s.Field)
				if s.Desc {
					sb.WriteString(" desc")
				}
			}
		}
	}

	return sb.String(), args, nil
}

// composeGroup renders one and/or level: the first AND item carries no
// leading join keyword but is still parenthesised; every subsequent AND item
// is joined with " and "; OR items are joined with " or ", with a single
// " or " separating the AND block from the OR block only when the AND list
// is non-empty.
func composeGroup(and, or []ConditionItem, args *[]interface{}) (string, error) {
	var sb strings.Builder
	for i, item := range and {
		inner, err := renderItem(item, args)
		if err != nil {
			return "", err
		}
		if i == 0 {
			sb.WriteString("(")
			sb.WriteString(inner)
			sb.WriteString(")")
		} else {
			sb.WriteString(" and (")
			sb.WriteString(inner)
			sb.WriteString(")")
		}
	}
	for i, item := range or {
		inner, err := renderItem(item, args)
		if err != nil {
			return "", err
		}
		if i == 0 && len(and) == 0 {
			sb.WriteString("(")
			sb.WriteString(inner)
			sb.WriteString(")")
		} else {
			sb.WriteString(" or (")
			sb.WriteString(inner)
			sb.WriteString(")")
		}
	}
	return sb.String(), nil
}

// renderItem renders a single ConditionItem: a nested and/or group recurses
// into composeGroup, otherwise it's a leaf comparison.
func renderItem(ci ConditionItem, args *[]interface{}) (string, error) {
	if len(ci.And) > 0 || len(ci.Or) > 0 {
		return composeGroup(ci.And, ci.Or, args)
	}
	return renderLeaf(ci, args)
}

func renderLeaf(ci ConditionItem, args *[]interface{}) (string, error) {
	switch ci.Operator {
	case OpIsNull:
		return ci.Field + " is null", nil
	case OpIsNotNull:
		return ci.Field + " is not null", nil
	case OpBetween:
		*args = append(*args, ci.Value, ci.Value2)
		return ci.Field + " between ? and ?", nil
	case OpIn, OpNotIn:
		op := sqlOperator[ci.Operator]
		if values, ok := ci.Value.([]interface{}); ok {
			if len(values) == 0 {
				return "", fmt.Errorf("condition: %s on %q needs at least one value", ci.Operator, ci.Field)
			}
			placeholders := strings.TrimSuffix(strings.Repeat("?,", len(values)), ",")
			*args = append(*args, values...)
			return ci.Field + " " + op + " (" + placeholders + ")", nil
		}
		*args = append(*args, ci.Value)
		return ci.Field + " " + op + " (?)", nil
	default:
		op, ok := sqlOperator[ci.Operator]
		if !ok {
			return "", fmt.Errorf("condition: unknown operator %q on field %q", ci.Operator, ci.Field)
		}
		*args = append(*args, ci.Value)
		return ci.Field + " " + op + " ?", nil
	}
}
