package transition

import (
	"strings"

	"admissions-workers/internal/models"
)

// PaymentOutcome is the payment sub-state an approval writes.
type PaymentOutcome struct {
	Type              string
	Amount            float64
	Status            models.PaymentStatus
	InstallmentsPaid  int
	TotalInstallments int
}

// IsInstallment reports whether a payment type denotes an installment plan.
func IsInstallment(paymentType string) bool {
	return strings.Contains(strings.ToLower(paymentType), "installment")
}

// ResolvePayment applies the approval payment rules to app. An installment
// plan counts one more installment unless the caller supplies the count and
// is Paid once every installment is in. Anything else is a full payment.
func ResolvePayment(app *models.Application, p models.PaymentDetails, defaultTotal int) PaymentOutcome {
	out := PaymentOutcome{Type: p.Type, Amount: p.Amount}
	if out.Type == "" {
		out.Type = app.PaymentType
	}

	total := defaultTotal
	if app.TotalInstallments > 0 {
		total = app.TotalInstallments
	}
	if p.TotalInstallments != nil && *p.TotalInstallments > 0 {
		total = *p.TotalInstallments
	}
	if total < 1 {
		total = 1
	}
	out.TotalInstallments = total

	if !IsInstallment(out.Type) {
		out.InstallmentsPaid = total
		out.Status = models.PaymentPaid
		return out
	}

	paid := app.InstallmentsPaid + 1
	if p.InstallmentsPaid != nil {
		paid = *p.InstallmentsPaid
	}
	if paid < 1 {
		paid = 1
	}
	if paid > total {
		paid = total
	}
	out.InstallmentsPaid = paid
	if paid == total {
		out.Status = models.PaymentPaid
	} else {
		out.Status = models.PaymentInstallment
	}
	return out
}
