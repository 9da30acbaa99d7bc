package versioning

import (
	"slices"

	mapset "github.com/deckarep/golang-set/v2"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// normalizePage clamps a 1-based page number and a page size to sane bounds.
func normalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return page, pageSize
}

func sortedIDs(s mapset.Set[uint]) []uint {
	ids := s.ToSlice()
	slices.Sort(ids)
	return ids
}
