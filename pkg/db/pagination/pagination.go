package pagination

type Pagination struct {
	Limit  int `form:"limit,default=50" validate:"gte=1,lte=250"`
	Offset int `form:"offset,default=0" validate:"gte=0"`
}

// Normalize clamps the pagination window to its documented bounds.
func (p Pagination) Normalize() Pagination {
	if p.Limit <= 0 {
		p.Limit = 50
	}
	if p.Limit > 250 {
		p.Limit = 250
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}
