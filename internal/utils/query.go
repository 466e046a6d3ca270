package utils

const defaultPageSize = 20

// ToSkipAndLimit converts 1-based page/size query params into the
// skip/limit pair the store listing expects.
func ToSkipAndLimit(page uint64, size uint64) (skip uint64, limit uint64) {
	if page == 0 {
		page = 1
	}

	if size == 0 {
		size = defaultPageSize
	}

	return (page - 1) * size, size
}
