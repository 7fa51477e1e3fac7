package httpapi

import (
	"github.com/goatkit/chimesgate/internal/condition"
)

// conditionItemDTO is the JSON shape of one condition item: {field, op, value, value2?, and?, or?}.
type conditionItemDTO struct {
	Field  string             `json:"field"`
	Op     string             `json:"op"`
	Value  interface{}        `json:"value"`
	Value2 interface{}        `json:"value2,omitempty"`
	And    []conditionItemDTO `json:"and,omitempty"`
	Or     []conditionItemDTO `json:"or,omitempty"`
}

// sortDTO is one entry of the sorts/group_by arrays: {field, sort_asc}.
type sortDTO struct {
	Field   string `json:"field"`
	SortAsc bool   `json:"sort_asc"`
}

type pagingDTO struct {
	Current int `json:"current"`
	Size    int `json:"size"`
}

// conditionDTO is the JSON payload accepted as the secondary argument on
// select/query/paged_query/delete_by/update_by requests.
type conditionDTO struct {
	And     []conditionItemDTO `json:"and,omitempty"`
	Or      []conditionItemDTO `json:"or,omitempty"`
	Sorts   []sortDTO          `json:"sorts,omitempty"`
	GroupBy []sortDTO          `json:"group_by,omitempty"`
	Paging  *pagingDTO         `json:"paging,omitempty"`
}

func (dto conditionItemDTO) toItem() condition.ConditionItem {
	item := condition.ConditionItem{Field: dto.Field, Operator: dto.Op, Value: dto.Value, Value2: dto.Value2}
	for _, c := range dto.And {
		item.And = append(item.And, c.toItem())
	}
	for _, c := range dto.Or {
		item.Or = append(item.Or, c.toItem())
	}
	return item
}

// toQueryCondition converts the wire payload into the engine's condition
// tree. A nil dto is a valid "no condition" request.
func (dto *conditionDTO) toQueryCondition() *condition.QueryCondition {
	if dto == nil {
		return nil
	}
	qc := &condition.QueryCondition{}
	for _, c := range dto.And {
		qc.And = append(qc.And, c.toItem())
	}
	for _, c := range dto.Or {
		qc.Or = append(qc.Or, c.toItem())
	}
	for _, s := range dto.Sorts {
		qc.Sorts = append(qc.Sorts, condition.SortItem{Field: s.Field, Desc: !s.SortAsc})
	}
	for _, g := range dto.GroupBy {
		qc.GroupBy = append(qc.GroupBy, g.Field)
	}
	if dto.Paging != nil {
		qc.Paging = &condition.Paging{PageNo: dto.Paging.Current, PageSize: dto.Paging.Size}
	}
	return qc
}
