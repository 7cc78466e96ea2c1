package dto

type ErrorResponse struct {
	Error   string      `json:"error"`
	Details interface{} `json:"details,omitempty"`
}

type SuccessResponse struct {
	Message string `json:"message"`
}

// TransitionDetails explains a 409.
type TransitionDetails struct {
	Current string   `json:"current"`
	Target  string   `json:"target,omitempty"`
	Allowed []string `json:"allowed"`
}
