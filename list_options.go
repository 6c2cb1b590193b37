package main

import (
	"strings"

	"gorm.io/gorm"
)

type SortType string

const (
	SortTypeAscending  SortType = "asc"
	SortTypeDescending SortType = "desc"
)

func (s SortType) ToString() string {
	return strings.ToUpper(string(s))
}

const (
	DefaultLimit = 10
	MaxLimit     = 100
)

// ListOptions pages and orders list queries. A zero Limit means DefaultLimit.
type ListOptions struct {
	Offset uint32    `json:"offset,omitempty"`
	Limit  uint32    `json:"limit,omitempty" validate:"lte=100"`
	Sort   *SortType `json:"sort,omitempty" validate:"omitempty,oneof=asc desc"`
}

func (o ListOptions) limit() int {
	switch {
	case o.Limit == 0:
		return DefaultLimit
	case o.Limit > MaxLimit:
		return MaxLimit
	default:
		return int(o.Limit)
	}
}

// apply orders by sortBy, breaking ties by id so pages are stable.
func (o ListOptions) apply(db *gorm.DB, sortBy string, defaultSort SortType) *gorm.DB {
	sort := defaultSort
	if o.Sort != nil {
		sort = *o.Sort
	}

	return db.
		Order(sortBy + " " + sort.ToString()).
		Order("id ASC").
		Offset(int(o.Offset)).
		Limit(o.limit())
}
