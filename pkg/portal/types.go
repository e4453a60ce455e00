package portal

import "time"

// Session is the viewer's identity as last verified by the backend
type Session struct {
	IsAuthenticated bool   `json:"isAuthenticated"`
	Username        string `json:"username,omitempty"`
	Role            string `json:"role,omitempty"`
}

// LogoutResult is the backend's answer to a logout operation
type LogoutResult struct {
	Success bool   `json:"success"`
	Detail  string `json:"detail,omitempty"`
}

// OperationRoutes names the backend operations the session gate relies on
type OperationRoutes struct {
	// Identity is the identity-check operation
	Identity string

	// Logout ends the backend session
	Logout string

	// Login starts a backend session
	Login string
}

// DefaultRoutes returns the operation names used when none are configured
func DefaultRoutes() OperationRoutes {
	return OperationRoutes{
		Identity: "check_auth",
		Logout:   "logout",
		Login:    "login",
	}
}

// RetryConfig configures opt-in transport retries
type RetryConfig struct {
	MaxRetries int           `json:"maxRetries"`
	RetryWait  time.Duration `json:"retryWait"`
	MaxWait    time.Duration `json:"maxWait"`
}
