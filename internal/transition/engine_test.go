package transition

import (
	"context"
	stderrors "errors"
	stdsync "sync"
	"testing"
	"time"

	"admissions-workers/internal/cache"
	"admissions-workers/internal/common/errors"
	"admissions-workers/internal/common/logger"
	"admissions-workers/internal/mapper"
	"admissions-workers/internal/models"
	"admissions-workers/internal/store"
	"admissions-workers/internal/store/storetest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNotifier struct {
	mu      stdsync.Mutex
	notices []models.DecisionNotice
	err     error
	delay   time.Duration
}

func (n *fakeNotifier) SendDecision(ctx context.Context, notice models.DecisionNotice) error {
	if n.delay > 0 {
		time.Sleep(n.delay)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
	return n.err
}

func (n *fakeNotifier) sent() []models.DecisionNotice {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]models.DecisionNotice(nil), n.notices...)
}

type fakeActivity struct {
	mu      stdsync.Mutex
	entries []models.AdminLog
}

func (a *fakeActivity) Record(ctx context.Context, entry models.AdminLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, entry)
	return nil
}

func (a *fakeActivity) types() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []string
	for _, e := range a.entries {
		out = append(out, e.Type)
	}
	return out
}

type fixture struct {
	store    *storetest.Faulty
	cache    *cache.Cache
	notifier *fakeNotifier
	activity *fakeActivity
	engine   *Engine
	tables   store.Tables
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := logger.NewTestLogger(t)
	f := &fixture{
		store:    storetest.Wrap(store.NewMemory()),
		notifier: &fakeNotifier{},
		activity: &fakeActivity{},
		tables:   store.DefaultTables(),
		now:      time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC),
	}

	applied := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, f.store.Insert(context.Background(), f.tables.Applications,
		mapper.NewApplicationRow(mapper.Candidate{
			ID: "APP001", Name: "Asha", Email: "asha@example.com", Phone: "111",
			Course: "Web Development", PaymentType: "UPI", UPITransactionID: "TXN1", AppliedDate: applied,
		}, 2),
		mapper.NewApplicationRow(mapper.Candidate{
			ID: "APP002", Name: "Ravi", Email: "ravi@example.com", Course: "Data Science", AppliedDate: applied,
		}, 2),
	))
	f.store.Reset()

	f.cache = cache.New(f.store, f.tables.Applications, log)
	require.NoError(t, f.cache.Reload(context.Background(), cache.TriggerStartup))
	f.engine = NewEngine(Config{Tables: f.tables}, f.store, f.cache, f.notifier, f.activity, log)
	f.engine.now = func() time.Time { return f.now }
	return f
}

func (f *fixture) rows(t *testing.T, table string, filter store.Filter) []store.Row {
	t.Helper()
	rows, err := f.store.Select(context.Background(), table, store.Query{Filter: filter})
	require.NoError(t, err)
	return rows
}

func (f *fixture) application(t *testing.T, id string) *models.Application {
	t.Helper()
	rows := f.rows(t, f.tables.Applications, store.ByID(id))
	require.Len(t, rows, 1)
	app, err := mapper.ApplicationFromRow(rows[0])
	require.NoError(t, err)
	return app
}

func fullPayment() models.PaymentDetails {
	return models.PaymentDetails{Type: "Full Payment", Amount: 2999}
}

func TestApprove_Success(t *testing.T) {
	f := newFixture(t)
	events, unsubscribe := f.cache.Subscribe()
	defer unsubscribe()

	res := f.engine.Approve(context.Background(), "APP001", fullPayment(), models.Actor{Username: "dean", Browser: "Firefox"})

	require.True(t, res.Success, res.Message)
	require.NotNil(t, res.Application)
	assert.Equal(t, models.StatusApproved, res.Application.Status)

	app := f.application(t, "APP001")
	assert.Equal(t, models.StatusApproved, app.Status)
	require.NotNil(t, app.ApprovedDate)
	assert.Equal(t, f.now, *app.ApprovedDate)
	assert.Nil(t, app.RejectedDate)
	require.NotNil(t, app.PaymentAmount)
	assert.Equal(t, 2999.0, *app.PaymentAmount)
	assert.Equal(t, models.PaymentPaid, app.PaymentStatus)
	assert.Equal(t, 2, app.InstallmentsPaid)
	require.NotNil(t, app.ApprovedBy)
	assert.Equal(t, "dean", app.ApprovedBy.Username)
	assert.Equal(t, "Desktop", app.ApprovedBy.Device)
	assert.Equal(t, "Firefox", app.ApprovedBy.Browser)
	assert.Equal(t, int64(2), app.Version)

	assert.Len(t, f.rows(t, f.tables.Approved, store.Filter{"application_id": "APP001"}), 1)
	ledger := f.rows(t, f.tables.Payments, store.Filter{"application_id": "APP001"})
	require.Len(t, ledger, 1)
	assert.Equal(t, 2999.0, ledger[0]["payment_amount"])

	cached, _ := f.cache.Get("APP001")
	assert.Equal(t, models.StatusApproved, cached.Status)
	select {
	case <-events:
	default:
		t.Fatal("expected data changed")
	}

	require.NoError(t, f.engine.Drain(context.Background()))
	sent := f.notifier.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, models.DecisionApproved, sent[0].Decision)
	assert.Equal(t, "TXN1", sent[0].TransactionRef)
	assert.Equal(t, []string{models.LogTypeApproval}, f.activity.types())
}

func TestApprove_AuditFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	f.store.FailOn("insert", f.tables.Approved, errors.NewTransportError("store", stderrors.New("timeout")))

	res := f.engine.Approve(context.Background(), "APP001", fullPayment(), models.Actor{})

	assert.False(t, res.Success)
	assert.Equal(t, string(errors.ErrCodeTransitionCancelled), res.Code)
	assert.Equal(t, "Failed to save approval record. Approval cancelled.", res.Message)
	assert.True(t, stderrors.Is(res.Err, errors.ErrTransitionCancelled))

	app := f.application(t, "APP001")
	assert.Equal(t, models.StatusPending, app.Status)
	assert.Nil(t, app.ApprovedDate)
	assert.Nil(t, app.ApprovedBy)
	assert.Nil(t, app.PaymentAmount)
	assert.Equal(t, models.PaymentPending, app.PaymentStatus)
	assert.Equal(t, 0, app.InstallmentsPaid)
	assert.Equal(t, "UPI", app.PaymentType)
	assert.Empty(t, f.rows(t, f.tables.Payments, nil))

	cached, _ := f.cache.Get("APP001")
	assert.Equal(t, models.StatusPending, cached.Status)
	assert.Equal(t, int64(3), cached.Version)

	require.NoError(t, f.engine.Drain(context.Background()))
	assert.Empty(t, f.notifier.sent())
	assert.Equal(t, []string{models.LogTypeError}, f.activity.types())
}

func TestApprove_LedgerFailureRemovesAuditRow(t *testing.T) {
	f := newFixture(t)
	f.store.FailOn("insert", f.tables.Payments, errors.NewConstraintViolationError(f.tables.Payments, stderrors.New("check")))

	res := f.engine.Approve(context.Background(), "APP001", fullPayment(), models.Actor{})

	assert.Equal(t, string(errors.ErrCodeTransitionCancelled), res.Code)
	assert.Equal(t, models.StatusPending, f.application(t, "APP001").Status)
	assert.Empty(t, f.rows(t, f.tables.Approved, nil))
	assert.Empty(t, f.rows(t, f.tables.Payments, nil))

	deletes := f.store.Calls("delete")
	require.Len(t, deletes, 1)
	assert.Equal(t, f.tables.Approved, deletes[0].Table)
}

func TestApprove_CompensationFailure(t *testing.T) {
	f := newFixture(t)
	f.store.FailOn("insert", f.tables.Payments, errors.NewTransportError("store", stderrors.New("timeout")))
	f.store.FailWhen("update", f.tables.Applications, func(c storetest.Call) bool {
		return c.Patch[mapper.ColStatus] == string(models.StatusPending)
	}, errors.NewTransportError("store", stderrors.New("connection lost")))

	res := f.engine.Approve(context.Background(), "APP001", fullPayment(), models.Actor{})

	assert.False(t, res.Success)
	assert.Equal(t, string(errors.ErrCodeCompensationFailure), res.Code)
	assert.True(t, stderrors.Is(res.Err, errors.ErrCompensationFailure))

	// the primary write stands; the audit row was already undone
	assert.Equal(t, models.StatusApproved, f.application(t, "APP001").Status)
	assert.Empty(t, f.rows(t, f.tables.Approved, nil))
	assert.Contains(t, f.activity.types(), models.LogTypeError)
}

func TestApprove_PrimaryFailureWritesNothingElse(t *testing.T) {
	f := newFixture(t)
	f.store.FailOn("update", f.tables.Applications, errors.NewTransportError("store", stderrors.New("down")))

	res := f.engine.Approve(context.Background(), "APP001", fullPayment(), models.Actor{})

	assert.Equal(t, string(errors.ErrCodeTransport), res.Code)
	assert.Len(t, f.store.Calls("update"), 1)
	assert.Empty(t, f.store.Calls("insert"))
	assert.Equal(t, models.StatusPending, f.application(t, "APP001").Status)
}

func TestApprove_VersionConflict(t *testing.T) {
	f := newFixture(t)
	// decided by another session; this cache has not seen it
	_, err := f.store.Store.Update(context.Background(), f.tables.Applications, store.ByID("APP001"),
		store.Row{"status": "Rejected", "rejected_date": f.now, "version": int64(2)})
	require.NoError(t, err)

	res := f.engine.Approve(context.Background(), "APP001", fullPayment(), models.Actor{})

	assert.Equal(t, string(errors.ErrCodeVersionConflict), res.Code)
	assert.Empty(t, f.store.Calls("insert"))
	assert.Equal(t, models.StatusRejected, f.application(t, "APP001").Status)

	cached, _ := f.cache.Get("APP001")
	assert.Equal(t, models.StatusRejected, cached.Status, "conflict refreshes the cache")
}

func TestApprove_UnknownOrInvalid(t *testing.T) {
	f := newFixture(t)

	res := f.engine.Approve(context.Background(), "NOPE", fullPayment(), models.Actor{})
	assert.Equal(t, string(errors.ErrCodeNotFound), res.Code)

	res = f.engine.Approve(context.Background(), "APP001", models.PaymentDetails{Type: "Full", Amount: -1}, models.Actor{})
	assert.Equal(t, string(errors.ErrCodeInvalidInput), res.Code)

	assert.Zero(t, f.store.WriteCount())
}

func TestApprove_Installments(t *testing.T) {
	f := newFixture(t)

	res := f.engine.Approve(context.Background(), "APP002", models.PaymentDetails{Type: "Installment Plan", Amount: 1500}, models.Actor{})

	require.True(t, res.Success, res.Message)
	app := f.application(t, "APP002")
	assert.Equal(t, models.PaymentInstallment, app.PaymentStatus)
	assert.Equal(t, 1, app.InstallmentsPaid)
	assert.Equal(t, 2, app.TotalInstallments)
}

func TestReject_ThenFurtherTransitionsAreNotFound(t *testing.T) {
	f := newFixture(t)

	res := f.engine.Reject(context.Background(), "APP001", "bad screenshot", models.Actor{})

	require.True(t, res.Success, res.Message)
	app := f.application(t, "APP001")
	assert.Equal(t, models.StatusRejected, app.Status)
	assert.Equal(t, "bad screenshot", app.RejectionReason)
	require.NotNil(t, app.RejectedDate)
	assert.Nil(t, app.ApprovedDate)
	require.NotNil(t, app.RejectedBy)
	assert.Equal(t, "Admin", app.RejectedBy.Username)

	audit := f.rows(t, f.tables.Rejected, store.Filter{"application_id": "APP001"})
	require.Len(t, audit, 1)
	assert.Equal(t, "bad screenshot", audit[0]["rejection_reason"])
	assert.Empty(t, f.rows(t, f.tables.Payments, nil))

	f.store.Reset()
	again := f.engine.Reject(context.Background(), "APP001", "again", models.Actor{})
	assert.False(t, again.Success)
	assert.Equal(t, string(errors.ErrCodeNotFound), again.Code)

	approve := f.engine.Approve(context.Background(), "APP001", fullPayment(), models.Actor{})
	assert.Equal(t, string(errors.ErrCodeNotFound), approve.Code)
	assert.Zero(t, f.store.WriteCount())

	require.NoError(t, f.engine.Drain(context.Background()))
	sent := f.notifier.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, models.DecisionRejected, sent[0].Decision)
	assert.Equal(t, "bad screenshot", sent[0].Reason)
}

func TestReject_AuditFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	f.store.FailOn("insert", f.tables.Rejected, errors.NewTransportError("store", stderrors.New("timeout")))

	res := f.engine.Reject(context.Background(), "APP001", "incomplete", models.Actor{})

	assert.Equal(t, string(errors.ErrCodeTransitionCancelled), res.Code)
	assert.Equal(t, "Failed to save rejection record. Rejection cancelled.", res.Message)
	app := f.application(t, "APP001")
	assert.Equal(t, models.StatusPending, app.Status)
	assert.Nil(t, app.RejectedDate)
	assert.Empty(t, app.RejectionReason)
	assert.Nil(t, app.RejectedBy)
}

func TestReject_RequiresReason(t *testing.T) {
	f := newFixture(t)

	res := f.engine.Reject(context.Background(), "APP001", "   ", models.Actor{})

	assert.Equal(t, string(errors.ErrCodeInvalidInput), res.Code)
	assert.Zero(t, f.store.WriteCount())
}

func TestDelete(t *testing.T) {
	f := newFixture(t)

	res := f.engine.Delete(context.Background(), "APP002", models.Actor{Username: "dean"})

	require.True(t, res.Success)
	assert.Empty(t, f.rows(t, f.tables.Applications, store.ByID("APP002")))
	_, ok := f.cache.Get("APP002")
	assert.False(t, ok)

	missing := f.engine.Delete(context.Background(), "APP002", models.Actor{})
	assert.Equal(t, string(errors.ErrCodeNotFound), missing.Code)
	assert.Equal(t, []string{models.LogTypeDelete, models.LogTypeError}, f.activity.types())
}

func TestDelete_DecidedRecord(t *testing.T) {
	f := newFixture(t)
	require.True(t, f.engine.Reject(context.Background(), "APP001", "spam", models.Actor{}).Success)

	res := f.engine.Delete(context.Background(), "APP001", models.Actor{})

	assert.True(t, res.Success)
	assert.Equal(t, 1, f.cache.Len())
}

func TestNotificationFailureDoesNotFailApproval(t *testing.T) {
	f := newFixture(t)
	f.notifier.err = errors.NewNotificationSendFailedError("email", stderrors.New("throttled"))

	res := f.engine.Approve(context.Background(), "APP001", fullPayment(), models.Actor{})

	assert.True(t, res.Success)
	require.NoError(t, f.engine.Drain(context.Background()))
}

func TestDrain_RespectsContext(t *testing.T) {
	f := newFixture(t)
	f.notifier.delay = 500 * time.Millisecond
	require.True(t, f.engine.Approve(context.Background(), "APP001", fullPayment(), models.Actor{}).Success)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, f.engine.Drain(ctx), context.DeadlineExceeded)

	require.NoError(t, f.engine.Drain(context.Background()))
}
