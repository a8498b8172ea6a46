package httpserver

const (
	ErrInvalidJSON = "invalid json"
	ErrDependency  = "dependency error"
	ErrNotFound    = "session not found"
	ErrNoQR        = "no qr code available"
	ErrInternal    = "internal error"
)
