package query

// Window is an offset/limit pair derived from page-based pagination.
type Window struct {
	Offset int
	Limit  int
}

// Paginate converts a zero-based page number and a page size into a query
// window. Inputs are clamped rather than rejected: a negative page number
// becomes page 0 and a non-positive page size becomes 1, so a degenerate
// window can never reach the storage layer. Callers that want to reject bad
// pagination validate upstream.
func Paginate(pageNo, pageSize int) Window {
	if pageNo < 0 {
		pageNo = 0
	}
	if pageSize < 1 {
		pageSize = 1
	}
	return Window{
		Offset: pageNo * pageSize,
		Limit:  pageSize,
	}
}
