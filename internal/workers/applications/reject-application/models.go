package rejectapplication

type Input struct {
	ApplicationID string `json:"applicationId"`
	Reason        string `json:"reason"`
	Username      string `json:"username,omitempty"`
}

type Output struct {
	ApplicationID string `json:"applicationId"`
	Status        string `json:"applicationStatus"`
	Reason        string `json:"rejectionReason"`
	RejectedAt    string `json:"rejectedAt"` // ISO 8601
	Message       string `json:"message"`
}
