package api

// CreateSessionResponse is returned by POST /sessions.
type CreateSessionResponse struct {
	SessionID   string `json:"session_id"`
	Status      string `json:"status"`
	AccessToken string `json:"access_token"`
}

// SessionResponse is returned by GET /sessions/:id.
type SessionResponse struct {
	ID            string  `json:"id"`
	RunID         string  `json:"run_id"`
	RepoName      string  `json:"repo_name"`
	Status        string  `json:"status"`
	Instruction   string  `json:"instruction"`
	RootNodeIndex *int    `json:"root_node_index,omitempty"`
	ModelName     string  `json:"model_name"`
	ErrorMessage  *string `json:"error_message,omitempty"`
}

// CancelResponse is returned by POST /sessions/:id/cancel.
type CancelResponse struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}
