// Package transition moves applications out of Pending. Each decision is a
// saga: a guarded primary update, then audit and ledger inserts, with the
// primary update reverted if a later write fails.
package transition

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	stdsync "sync"
	"time"

	"admissions-workers/internal/cache"
	"admissions-workers/internal/common/errors"
	"admissions-workers/internal/common/logger"
	"admissions-workers/internal/common/metrics"
	"admissions-workers/internal/mapper"
	"admissions-workers/internal/models"
	"admissions-workers/internal/store"

	"github.com/google/uuid"
)

const (
	ActionApprove = "approve"
	ActionReject  = "reject"
	ActionDelete  = "delete"
)

// Notifier sends the applicant their decision. Failures are logged only.
type Notifier interface {
	SendDecision(ctx context.Context, notice models.DecisionNotice) error
}

// ActivityLog receives operator-facing entries.
type ActivityLog interface {
	Record(ctx context.Context, entry models.AdminLog) error
}

type Config struct {
	Tables                   store.Tables
	DefaultTotalInstallments int
	NotifyTimeout            time.Duration
	DefaultUsername          string
}

// Result is what callers see of a transition. Err carries the typed error for
// programmatic callers and is not serialised.
type Result struct {
	Success     bool                `json:"success"`
	Message     string              `json:"message"`
	Code        string              `json:"code,omitempty"`
	Application *models.Application `json:"application,omitempty"`
	Err         error               `json:"-"`
}

type Engine struct {
	config   Config
	store    store.Store
	cache    *cache.Cache
	notifier Notifier
	activity ActivityLog
	log      logger.Logger
	now      func() time.Time
	newID    func() string

	notifications stdsync.WaitGroup
}

func NewEngine(config Config, s store.Store, c *cache.Cache, notifier Notifier, activity ActivityLog, log logger.Logger) *Engine {
	if config.DefaultTotalInstallments <= 0 {
		config.DefaultTotalInstallments = 2
	}
	if config.NotifyTimeout <= 0 {
		config.NotifyTimeout = 10 * time.Second
	}
	if config.DefaultUsername == "" {
		config.DefaultUsername = "Admin"
	}
	return &Engine{
		config:   config,
		store:    s,
		cache:    c,
		notifier: notifier,
		activity: activity,
		log:      logger.ForComponent(log, "transition"),
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
	}
}

// Approve moves a Pending application to Approved and writes its audit and
// ledger rows.
func (e *Engine) Approve(ctx context.Context, id string, payment models.PaymentDetails, actor models.Actor) Result {
	actor = e.actor(actor)
	if payment.Amount < 0 {
		return e.finish(ctx, ActionApprove, id, nil, errors.NewInvalidInputError("payment amount must not be negative"))
	}
	app, err := e.pending(ctx, id)
	if err != nil {
		return e.finish(ctx, ActionApprove, id, nil, err)
	}

	now := e.now()
	pay := ResolvePayment(app, payment, e.config.DefaultTotalInstallments)
	by := actor.ProvenanceAt(now)
	t := e.config.Tables

	approvedRow := mapper.ApprovedRecordRow(models.ApprovedRecord{
		ID:                e.newID(),
		ApplicationID:     app.ID,
		StudentName:       app.Name,
		StudentEmail:      app.Email,
		StudentPhone:      app.Phone,
		Course:            app.Course,
		PaymentType:       pay.Type,
		PaymentAmount:     pay.Amount,
		PaymentStatus:     pay.Status,
		UPITransactionID:  app.UPITransactionID,
		AppliedDate:       app.AppliedDate,
		ApprovedDate:      now,
		ApprovedByUser:    by.Username,
		ApprovedByDevice:  by.Device,
		ApprovedByBrowser: by.Browser,
	})
	ledgerRow := mapper.PaymentRecordRow(models.PaymentRecord{
		ID:               e.newID(),
		ApplicationID:    app.ID,
		StudentName:      app.Name,
		StudentEmail:     app.Email,
		StudentPhone:     app.Phone,
		Course:           app.Course,
		PaymentAmount:    pay.Amount,
		PaymentType:      pay.Type,
		PaymentStatus:    pay.Status,
		UPITransactionID: app.UPITransactionID,
		PaymentDate:      now,
	})

	saga := NewSaga("approve", e.log).
		Add(Step{
			Name: "primary",
			Action: e.guardedUpdate(app, store.Row{
				mapper.ColStatus:            string(models.StatusApproved),
				mapper.ColApprovedDate:      now,
				mapper.ColPaymentType:       pay.Type,
				mapper.ColPaymentAmount:     pay.Amount,
				mapper.ColPaymentStatus:     string(pay.Status),
				mapper.ColInstallmentsPaid:  int64(pay.InstallmentsPaid),
				mapper.ColTotalInstallments: int64(pay.TotalInstallments),
				mapper.ColApprovedBy:        mapper.ProvenanceValue(by),
			}),
			Compensate: e.revert(app, models.StatusApproved, store.Row{
				mapper.ColStatus:            string(models.StatusPending),
				mapper.ColApprovedDate:      nil,
				mapper.ColApprovedBy:        nil,
				mapper.ColPaymentAmount:     nil,
				mapper.ColPaymentStatus:     string(models.PaymentPending),
				mapper.ColPaymentType:       nullable(app.PaymentType),
				mapper.ColInstallmentsPaid:  int64(app.InstallmentsPaid),
				mapper.ColTotalInstallments: int64(app.TotalInstallments),
			}),
		}).
		Add(Step{
			Name:       "audit",
			Action:     e.insert(t.Approved, approvedRow),
			Compensate: e.deleteRow(t.Approved, approvedRow["id"].(string)),
		}).
		Add(Step{
			Name:   "ledger",
			Action: e.insert(t.Payments, ledgerRow),
		})

	if err := saga.Run(ctx); err != nil {
		return e.finish(ctx, ActionApprove, id, app, e.sagaError("approval", app, err))
	}

	e.notify(models.DecisionNotice{
		ApplicationID:  app.ID,
		Name:           app.Name,
		Email:          app.Email,
		Phone:          app.Phone,
		Course:         app.Course,
		TransactionRef: app.UPITransactionID,
		Decision:       models.DecisionApproved,
	})
	e.record(ctx, actor, models.AdminLog{
		Type:    models.LogTypeApproval,
		Title:   "Application Approved",
		Message: fmt.Sprintf("Approved %s (%s) for %s, payment %s %.2f", app.Name, app.ID, app.Course, pay.Status, pay.Amount),
	})
	return e.finish(ctx, ActionApprove, id, app, nil)
}

// Reject moves a Pending application to Rejected and writes its audit row.
func (e *Engine) Reject(ctx context.Context, id, reason string, actor models.Actor) Result {
	actor = e.actor(actor)
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return e.finish(ctx, ActionReject, id, nil, errors.NewInvalidInputError("rejection reason is required"))
	}
	app, err := e.pending(ctx, id)
	if err != nil {
		return e.finish(ctx, ActionReject, id, nil, err)
	}

	now := e.now()
	by := actor.ProvenanceAt(now)
	rejectedRow := mapper.RejectedRecordRow(models.RejectedRecord{
		ID:                e.newID(),
		ApplicationID:     app.ID,
		StudentName:       app.Name,
		StudentEmail:      app.Email,
		StudentPhone:      app.Phone,
		Course:            app.Course,
		RejectionReason:   reason,
		AppliedDate:       app.AppliedDate,
		RejectedDate:      now,
		RejectedByUser:    by.Username,
		RejectedByDevice:  by.Device,
		RejectedByBrowser: by.Browser,
	})

	saga := NewSaga("reject", e.log).
		Add(Step{
			Name: "primary",
			Action: e.guardedUpdate(app, store.Row{
				mapper.ColStatus:          string(models.StatusRejected),
				mapper.ColRejectedDate:    now,
				mapper.ColRejectionReason: reason,
				mapper.ColRejectedBy:      mapper.ProvenanceValue(by),
			}),
			Compensate: e.revert(app, models.StatusRejected, store.Row{
				mapper.ColStatus:          string(models.StatusPending),
				mapper.ColRejectedDate:    nil,
				mapper.ColRejectionReason: nil,
				mapper.ColRejectedBy:      nil,
			}),
		}).
		Add(Step{
			Name:   "audit",
			Action: e.insert(e.config.Tables.Rejected, rejectedRow),
		})

	if err := saga.Run(ctx); err != nil {
		return e.finish(ctx, ActionReject, id, app, e.sagaError("rejection", app, err))
	}

	e.notify(models.DecisionNotice{
		ApplicationID: app.ID,
		Name:          app.Name,
		Email:         app.Email,
		Phone:         app.Phone,
		Course:        app.Course,
		Decision:      models.DecisionRejected,
		Reason:        reason,
	})
	e.record(ctx, actor, models.AdminLog{
		Type:    models.LogTypeReject,
		Title:   "Application Rejected",
		Message: fmt.Sprintf("Rejected %s (%s): %s", app.Name, app.ID, reason),
	})
	return e.finish(ctx, ActionReject, id, app, nil)
}

// Delete removes an application regardless of status. There is nothing to
// compensate; the attempt is always logged.
func (e *Engine) Delete(ctx context.Context, id string, actor models.Actor) Result {
	actor = e.actor(actor)
	prior, _ := e.cache.Get(id)

	n, err := e.store.Delete(ctx, e.config.Tables.Applications, store.ByID(id))
	if err == nil && n == 0 {
		err = errors.NewNotFoundError(id, "no application to delete")
	}
	if err != nil {
		e.record(ctx, actor, models.AdminLog{
			Type:    models.LogTypeError,
			Title:   "Delete Failed",
			Message: fmt.Sprintf("Could not delete %s: %v", id, err),
		})
		return e.finish(ctx, ActionDelete, id, prior, err)
	}

	e.cache.Remove(id)
	e.cache.NotifyChanged(cache.TriggerTransition)

	name := id
	if prior != nil {
		name = fmt.Sprintf("%s (%s)", prior.Name, id)
	}
	e.record(ctx, actor, models.AdminLog{
		Type:    models.LogTypeDelete,
		Title:   "Application Deleted",
		Message: fmt.Sprintf("Deleted %s", name),
	})
	metrics.Transitions.WithLabelValues(ActionDelete, "success").Inc()
	e.log.Info("Application deleted", map[string]interface{}{"id": id, "username": actor.Username})
	return Result{Success: true, Message: "Application deleted", Application: prior}
}

// Drain blocks until in-flight notifications finish or ctx ends.
func (e *Engine) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.notifications.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// pending reads the precondition from the cache, loading it first if needed.
func (e *Engine) pending(ctx context.Context, id string) (*models.Application, error) {
	if !e.cache.Ready() {
		if err := e.cache.Reload(ctx, cache.TriggerTransition); err != nil {
			return nil, err
		}
	}
	app, ok := e.cache.Get(id)
	if !ok {
		return nil, errors.NewNotFoundError(id, "application does not exist")
	}
	if !app.IsPending() {
		return nil, errors.NewNotFoundError(id, fmt.Sprintf("application is already %s", app.Status))
	}
	return app, nil
}

func (e *Engine) guardedUpdate(app *models.Application, patch store.Row) func(context.Context) error {
	return func(ctx context.Context) error {
		patch[mapper.ColVersion] = app.Version + 1
		n, err := e.store.Update(ctx, e.config.Tables.Applications,
			mapper.VersionGuard(app.ID, models.StatusPending, app.Version), patch)
		if err != nil {
			return err
		}
		if n == 0 {
			return errors.NewVersionConflictError(app.ID, app.Version)
		}
		return nil
	}
}

// revert restores the Pending pre-image, guarded on the version the primary
// step wrote.
func (e *Engine) revert(app *models.Application, decided models.Status, patch store.Row) func(context.Context) error {
	return func(ctx context.Context) error {
		patch[mapper.ColVersion] = app.Version + 2
		n, err := e.store.Update(ctx, e.config.Tables.Applications,
			mapper.VersionGuard(app.ID, decided, app.Version+1), patch)
		if err != nil {
			return err
		}
		if n == 0 {
			return errors.NewVersionConflictError(app.ID, app.Version+1)
		}
		return nil
	}
}

func (e *Engine) insert(table string, row store.Row) func(context.Context) error {
	return func(ctx context.Context) error {
		return e.store.Insert(ctx, table, row)
	}
}

func (e *Engine) deleteRow(table, id string) func(context.Context) error {
	return func(ctx context.Context) error {
		_, err := e.store.Delete(ctx, table, store.ByID(id))
		return err
	}
}

// sagaError maps a saga failure to the caller-facing error kind.
func (e *Engine) sagaError(action string, app *models.Application, err error) error {
	var f *Failure
	if !stderrors.As(err, &f) {
		return err
	}
	if f.Index == 0 {
		// the primary write never landed
		return f.Err
	}
	if !f.RolledBack() {
		return errors.NewCompensationFailureError(app.ID, f.Err, f.RollbackErr).
			WithMetadata(map[string]interface{}{"action": action, "step": f.Step, "rollbackStep": f.RollbackStep})
	}
	return errors.NewTransitionCancelledError(action, app.ID, f.Err)
}

// finish reloads the cache when the store may have changed and turns err into
// a Result.
func (e *Engine) finish(ctx context.Context, action, id string, app *models.Application, err error) Result {
	code := errors.CodeOf(err)
	label := resultLabel(code, err)
	metrics.Transitions.WithLabelValues(action, label).Inc()

	wrote := err == nil || code == errors.ErrCodeTransitionCancelled ||
		code == errors.ErrCodeCompensationFailure || code == errors.ErrCodeVersionConflict
	if wrote && action != ActionDelete {
		rctx := context.WithoutCancel(ctx)
		if rerr := e.cache.Reload(rctx, cache.TriggerTransition); rerr == nil {
			e.cache.NotifyChanged(cache.TriggerTransition)
		}
	}

	fields := map[string]interface{}{"action": action, "id": id, "result": label}
	switch code {
	case "":
		e.log.Info("Transition completed", fields)
		current, ok := e.cache.Get(id)
		if !ok {
			current = app
		}
		return Result{Success: true, Message: successMessage(action, app), Application: current}
	case errors.ErrCodeCompensationFailure:
		fields["severity"] = "critical"
		fields["alert"] = "compensation_failure"
		e.log.WithError(err).Error("Rollback failed, application may be inconsistent", fields)
		metrics.Compensations.WithLabelValues(action, "failed").Inc()
		e.record(ctx, e.actor(models.Actor{}), models.AdminLog{
			Type:    models.LogTypeError,
			Title:   "Rollback Failed",
			Message: fmt.Sprintf("%s of %s could not be rolled back: %v", action, id, err),
		})
	case errors.ErrCodeTransitionCancelled:
		e.log.WithError(err).Warn("Transition cancelled and rolled back", fields)
		metrics.Compensations.WithLabelValues(action, "ok").Inc()
		e.record(ctx, e.actor(models.Actor{}), models.AdminLog{
			Type:    models.LogTypeError,
			Title:   "Transition Cancelled",
			Message: fmt.Sprintf("%s of %s was cancelled: %v", action, id, err),
		})
	default:
		e.log.WithError(err).Warn("Transition rejected", fields)
	}

	msg := err.Error()
	if se := errors.AsStandard(err); se != nil {
		msg = se.Message
	}
	current, _ := e.cache.Get(id)
	return Result{Success: false, Message: msg, Code: string(code), Application: current, Err: err}
}

func (e *Engine) notify(notice models.DecisionNotice) {
	if e.notifier == nil {
		return
	}
	e.notifications.Add(1)
	go func() {
		defer e.notifications.Done()
		ctx, cancel := context.WithTimeout(context.Background(), e.config.NotifyTimeout)
		defer cancel()
		if err := e.notifier.SendDecision(ctx, notice); err != nil {
			e.log.WithError(err).Warn("Decision notification failed", map[string]interface{}{
				"id":       notice.ApplicationID,
				"decision": string(notice.Decision),
			})
		}
	}()
}

func (e *Engine) record(ctx context.Context, actor models.Actor, entry models.AdminLog) {
	if e.activity == nil {
		return
	}
	entry.Username = actor.Username
	entry.Device = actor.Device
	entry.Browser = actor.Browser
	entry.Platform = actor.Platform
	if err := e.activity.Record(context.WithoutCancel(ctx), entry); err != nil {
		e.log.WithError(err).Warn("Failed to record admin log", nil)
	}
}

func (e *Engine) actor(a models.Actor) models.Actor {
	if a.Username == "" {
		a.Username = e.config.DefaultUsername
	}
	if a.Device == "" {
		a.Device = "Desktop"
	}
	if a.Browser == "" {
		a.Browser = "Unknown"
	}
	if a.Platform == "" {
		a.Platform = "Unknown"
	}
	return a
}

func resultLabel(code errors.ErrorCode, err error) string {
	if err == nil {
		return "success"
	}
	switch code {
	case errors.ErrCodeNotFound:
		return "not_found"
	case errors.ErrCodeVersionConflict:
		return "conflict"
	case errors.ErrCodeTransitionCancelled:
		return "cancelled"
	case errors.ErrCodeCompensationFailure:
		return "compensation_failure"
	case errors.ErrCodeInvalidInput:
		return "invalid"
	default:
		return "failed"
	}
}

func successMessage(action string, app *models.Application) string {
	name := "Application"
	if app != nil && app.Name != "" {
		name = app.Name
	}
	switch action {
	case ActionApprove:
		return fmt.Sprintf("%s approved successfully", name)
	case ActionReject:
		return fmt.Sprintf("%s rejected", name)
	default:
		return "Done"
	}
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
