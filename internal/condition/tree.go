// Package condition implements the recursive and/or condition tree and
// compiles it into a parameterised SQL WHERE clause, mirroring
// original_source/chimes-store-core/src/config/mod.rs's ConditionItem and
// QueryCondition::to_query rendering rules exactly.
package condition

// Comparison operators recognised by ConditionItem.Operator.
const (
	OpEqual        = "eq"
	OpNotEqual     = "ne"
	OpGreaterThan  = "gt"
	OpGreaterEqual = "ge"
	OpLessThan     = "lt"
	OpLessEqual    = "le"
	OpLike         = "like"
	OpNotLike      = "not_like"
	OpIn           = "in"
	OpNotIn        = "not_in"
	OpBetween      = "between"
	OpIsNull       = "is_null"
	OpIsNotNull    = "is_not_null"
)

var sqlOperator = map[string]string{
	OpEqual:        "=",
	OpNotEqual:     "<>",
	OpGreaterThan:  ">",
	OpGreaterEqual: ">=",
	OpLessThan:     "<",
	OpLessEqual:    "<=",
	OpLike:         "like",
	OpNotLike:      "not like",
	OpIn:           "in",
	OpNotIn:        "not in",
}

// ConditionItem is one leaf comparison, or a nested and/or group (And or Or
// non-empty, in which case Field/Operator/Value are ignored).
type ConditionItem struct {
	Field    string
	Operator string
	Value    interface{}
	Value2   interface{} // used by OpBetween
	And      []ConditionItem
	Or       []ConditionItem
}

// SortItem is one column of an ORDER BY clause.
type SortItem struct {
	Field string
	Desc  bool
}

// Paging carries LIMIT/OFFSET for paged_query invocations.
type Paging struct {
	PageNo   int
	PageSize int
}

// Offset returns the zero-based row offset for the page.
func (p Paging) Offset() int {
	if p.PageNo <= 1 {
		return 0
	}
	return (p.PageNo - 1) * p.PageSize
}

// QueryCondition is the full condition tree accepted by select/query/
// paged_query/delete_by/update_by: a root and/or group plus sort and
// group-by modifiers.
type QueryCondition struct {
	And     []ConditionItem
	Or      []ConditionItem
	Sorts   []SortItem
	GroupBy []string
	Paging  *Paging
}
