package httpdto

type Response[T any] struct {
	Success bool   `json:"success"`
	Data    T      `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
}

func NewSuccessResponse[T any](data T) Response[T] {
	return Response[T]{
		Success: true,
		Data:    data,
	}
}

func NewErrorResponse(err string, code string) Response[any] {
	return Response[any]{
		Success: false,
		Error:   err,
		Code:    code,
	}
}

// Error codes
const (
	CodeInvalidRequest = "INVALID_REQUEST"
	CodeNotFound       = "NOT_FOUND"
	CodeNoActive       = "NO_ACTIVE_CONVERSATION"
	CodeBusy           = "BUSY"
	CodeStale          = "STALE_RESULT"
	CodeConflict       = "CONFLICT"
	CodeNotConnected   = "NOT_CONNECTED"
	CodeRemoteFailed   = "REMOTE_FAILED"
	CodeInternal       = "INTERNAL_ERROR"
)
