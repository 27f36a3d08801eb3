package option

import (
	"voiceplane/pkg/db/pagination"

	"gorm.io/gorm"
)

// QueryOption mutates a gorm query before execution.
type QueryOption func(*gorm.DB) *gorm.DB

func ApplyPagination(p pagination.Pagination) QueryOption {
	return func(tx *gorm.DB) *gorm.DB {
		p = p.Normalize()
		return tx.Limit(p.Limit).Offset(p.Offset)
	}
}

func OrderBy(expr string) QueryOption {
	return func(tx *gorm.DB) *gorm.DB {
		return tx.Order(expr)
	}
}
