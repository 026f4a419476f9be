package notify

import (
	"fmt"
	"strings"

	"admissions-workers/internal/models"
)

// DefaultTemplates are the decision messages keyed by decision.
var DefaultTemplates = map[models.Decision]models.NotificationTemplate{
	models.DecisionApproved: {
		Subject: "Your application for {{course}} is approved",
		Body: "Hello {{name}},\n\nCongratulations! Your application ({{applicationId}}) for {{course}} has been approved." +
			"\nPayment reference: {{transactionRef}}\n\nWelcome aboard.",
	},
	models.DecisionRejected: {
		Subject: "Update on your application for {{course}}",
		Body: "Hello {{name}},\n\nWe are unable to accept your application ({{applicationId}}) for {{course}}." +
			"\nReason: {{reason}}\n\nYou are welcome to apply again.",
	},
}

// SMSTemplates are the short SMS bodies.
var SMSTemplates = map[models.Decision]string{
	models.DecisionApproved: "Hi {{name}}, your application for {{course}} is approved.",
	models.DecisionRejected: "Hi {{name}}, your application for {{course}} was not accepted: {{reason}}",
}

func noticeData(n models.DecisionNotice) map[string]interface{} {
	return map[string]interface{}{
		"applicationId":  n.ApplicationID,
		"name":           n.Name,
		"email":          n.Email,
		"course":         n.Course,
		"transactionRef": n.TransactionRef,
		"decision":       string(n.Decision),
		"reason":         n.Reason,
	}
}

// Render replaces {{key}} placeholders from data. Unknown placeholders
// render empty.
func Render(tmpl string, data map[string]interface{}) string {
	result := tmpl
	for k, v := range data {
		value := ""
		if v != nil {
			value = fmt.Sprint(v)
		}
		result = strings.ReplaceAll(result, "{{"+k+"}}", value)
	}

	for {
		start := strings.Index(result, "{{")
		if start == -1 {
			break
		}
		end := strings.Index(result[start:], "}}")
		if end == -1 {
			break
		}
		result = result[:start] + result[start+end+2:]
	}
	return result
}
