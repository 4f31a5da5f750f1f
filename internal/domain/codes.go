package domain

// ReturnCode is a stable (code, message) pair. Codes are an external contract
// and must never be renumbered.
type ReturnCode struct {
	Code    string
	Message string
}

// Generic return codes.
var (
	CodeSuccess          = ReturnCode{"000000", "operation succeeded"}
	CodeFail             = ReturnCode{"000001", "operation failed"}
	CodeParamError       = ReturnCode{"000010", "missing or invalid parameters"}
	CodeResourceNotFound = ReturnCode{"000404", "resource not found"}
	CodeMethodNotAllowed = ReturnCode{"000405", "method not allowed"}
	CodeClientError      = ReturnCode{"0004XX", "client request error"}
	CodeServerError      = ReturnCode{"0005XX", "the system is taking a break"}
)

// Business return codes. 1000xx covers authentication, 101xxx domain
// conflicts.
var (
	CodeNeedLogin               = ReturnCode{"100000", "login required"}
	CodePermissionDenied        = ReturnCode{"100001", "permission denied"}
	CodeUsernameOrPasswordError = ReturnCode{"100002", "wrong username or password"}
	CodePhoneAlreadyExists      = ReturnCode{"101000", "phone already exists"}
)

// Envelope builds a failure envelope for this code without content.
func (rc ReturnCode) Envelope() *Envelope {
	return FailWith(rc, nil)
}
