package shared

const (
	// DefaultPageLimit is used when a listing omits limit.
	DefaultPageLimit = 50
	// MaxPageLimit caps any listing.
	MaxPageLimit = 200
)

// Page is a normalised limit/offset window.
type Page struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// NewPage clamps limit into [1, MaxPageLimit] and offset to be non-negative.
func NewPage(limit, offset int) Page {
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	if offset < 0 {
		offset = 0
	}
	return Page{Limit: limit, Offset: offset}
}
