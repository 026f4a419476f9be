package deleteapplication

type Input struct {
	ApplicationID string `json:"applicationId"`
	Username      string `json:"username,omitempty"`
}

type Output struct {
	ApplicationID string `json:"applicationId"`
	Deleted       bool   `json:"deleted"`
	Message       string `json:"message"`
}
