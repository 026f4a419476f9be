// internal/models/notification.go
package models

import "time"

// Decision is what a notification tells the applicant.
type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
)

// DecisionNotice is the input to the decision notifier.
type DecisionNotice struct {
	ApplicationID  string   `json:"applicationId"`
	Name           string   `json:"name"`
	Email          string   `json:"email"`
	Phone          string   `json:"phone,omitempty"`
	Course         string   `json:"course"`
	TransactionRef string   `json:"transactionRef,omitempty"`
	Decision       Decision `json:"decision"`
	Reason         string   `json:"reason,omitempty"`
}

// Notification is the outcome of one send attempt on one channel.
type Notification struct {
	ID            string    `json:"id"`
	ApplicationID string    `json:"applicationId"`
	Channel       string    `json:"channel"` // "email", "sms"
	Status        string    `json:"status"`  // "sent", "failed", "disabled"
	MessageID     string    `json:"messageId,omitempty"`
	Error         string    `json:"error,omitempty"`
	SentAt        time.Time `json:"sentAt"`
}

type NotificationTemplate struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}
