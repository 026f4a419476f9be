package approveapplication

type Input struct {
	ApplicationID     string  `json:"applicationId"`
	PaymentType       string  `json:"paymentType,omitempty"`
	PaymentAmount     float64 `json:"paymentAmount,omitempty"`
	InstallmentsPaid  *int    `json:"installmentsPaid,omitempty"`
	TotalInstallments *int    `json:"totalInstallments,omitempty"`
	Username          string  `json:"username,omitempty"`
}

type Output struct {
	ApplicationID    string `json:"applicationId"`
	Status           string `json:"applicationStatus"`
	PaymentStatus    string `json:"paymentStatus"`
	InstallmentsPaid int    `json:"installmentsPaid"`
	ApprovedAt       string `json:"approvedAt"` // ISO 8601
	Message          string `json:"message"`
}
