package risk

import "errors"

// Sentinel errors for the risk service layer.
var (
	ErrNotFound        = errors.New("risk score not found")
	ErrMemberNotFound  = errors.New("member not found")
	ErrInvalidSettings = errors.New("invalid retention settings")
)
