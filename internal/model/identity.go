package model

// Identity is the resolved answer to "who is the current user".
// It is produced once per session by the identity gate and is read-only
// afterwards; it is re-evaluated only on explicit logout.
type Identity struct {
	Authenticated bool   `json:"authenticated"`
	Login         string `json:"login,omitempty"`
	IsInstructor  bool   `json:"is_instructor"`
}

// Anonymous is the identity every failure path resolves to. The gate never
// propagates upstream errors to its callers.
func Anonymous() Identity {
	return Identity{Authenticated: false}
}
