package snapshot_test

import (
	"MarginTrading/internal/observability"
	"MarginTrading/internal/schedule"
	"MarginTrading/internal/snapshot"
	"MarginTrading/internal/state"
	"MarginTrading/internal/validation"
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Test doubles ---

type memoryRepo struct {
	mu      sync.Mutex
	records []snapshot.TradingEngineSnapshot
	err     error
}

func (r *memoryRepo) Add(ctx context.Context, rec *snapshot.TradingEngineSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.records = append(r.records, *rec)
	return nil
}

func (r *memoryRepo) DraftExists(ctx context.Context, tradingDay time.Time) (bool, error) {
	rec, err := r.GetLastDraft(ctx, tradingDay)
	return rec != nil, err
}

func (r *memoryRepo) GetLastDraft(ctx context.Context, tradingDay time.Time) (*snapshot.TradingEngineSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.records) - 1; i >= 0; i-- {
		if r.records[i].Status == snapshot.StatusDraft && r.records[i].TradingDay.Equal(tradingDay) {
			rec := r.records[i]
			return &rec, nil
		}
	}
	return nil, nil
}

type stubQueues struct{ err error }

func (q stubQueues) EnsureDrained(ctx context.Context) error { return q.err }

type stubWorkflow struct {
	mu        sync.Mutex
	completed int
	days      []time.Time
	err       error
}

func (w *stubWorkflow) Completed(ctx context.Context, tradingDay time.Time) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.completed++
	w.days = append(w.days, tradingDay)
	return w.err
}

type stubNotifier struct {
	mu        sync.Mutex
	summaries []snapshot.Summary
	err       error
}

func (n *stubNotifier) SnapshotCreated(ctx context.Context, s snapshot.Summary) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.summaries = append(n.summaries, s)
	return n.err
}

// gate blocks every validation until released.
type gate struct {
	next    validation.Validator
	entered chan struct{}
	release chan struct{}
}

func (g *gate) Validate(ctx context.Context, cid string) validation.Result {
	g.entered <- struct{}{}
	<-g.release
	return g.next.Validate(ctx, cid)
}

type fixture struct {
	schedule *schedule.PlatformSchedule
	orders   *state.OrdersCache
	accounts *state.AccountsCache
	repo     *memoryRepo
	workflow *stubWorkflow
	notifier *stubNotifier
	logs     *bytes.Buffer
	svc      *snapshot.Service
}

func newTestFixture(t *testing.T, wrap func(validation.Validator) validation.Validator) *fixture {
	t.Helper()
	f := &fixture{
		schedule: schedule.NewPlatformSchedule(),
		orders:   state.NewOrdersCache(),
		accounts: state.NewAccountsCache(nil),
		repo:     &memoryRepo{},
		workflow: &stubWorkflow{},
		notifier: &stubNotifier{},
		logs:     &bytes.Buffer{},
	}
	f.schedule.Close(day, ts)
	f.accounts.Init([]state.Account{{ID: "a-1", Balance: decimal.NewFromInt(1000)}})
	f.orders.UpsertOrder(state.Order{ID: "o-1", AccountID: "a-1", Status: state.OrderStatusActive, Volume: decimal.NewFromInt(1)})
	f.orders.UpsertPosition(state.Position{ID: "p-1", AccountID: "a-1", Volume: decimal.NewFromInt(1)})

	fx := state.NewQuotesCache()
	fx.Set(state.BidAskPair{Instrument: "EURUSD", Date: ts})
	trading := state.NewQuotesCache()

	metrics := observability.NewMetrics(prometheus.NewRegistry())
	logger := zerolog.New(f.logs)

	var v validation.Validator = validation.NewEnvironmentValidator(
		f.orders, validation.NewStructuralChecker(f.accounts), nil, metrics, zerolog.Nop())
	if wrap != nil {
		v = wrap(v)
	}

	f.svc = snapshot.NewService(snapshot.Deps{
		Strategies:    validation.NewStrategies(v, validation.StrategyConfig{Retries: 1, BackoffUnit: time.Millisecond}, metrics, zerolog.Nop()),
		Accounts:      f.accounts,
		FxQuotes:      fx,
		TradingQuotes: trading,
		Repository:    f.repo,
		Queues:        stubQueues{},
		Schedule:      f.schedule,
		Workflow:      f.workflow,
		Notifier:      f.notifier,
	}, metrics, logger)
	return f
}

func (f *fixture) make(status snapshot.Status) (snapshot.Summary, error) {
	return f.svc.MakeSnapshot(context.Background(), day, "cid-1", validation.StrategyAsSoonAsPossible, "test", status)
}

// ============================================================================
// Test: MakeSnapshot happy path
// ============================================================================

func TestMakeSnapshot_PersistsFinal(t *testing.T) {
	f := newTestFixture(t, nil)

	sum, err := f.make(snapshot.StatusFinal)
	require.NoError(t, err)

	assert.Equal(t, day, sum.TradingDay)
	assert.Equal(t, 1, sum.OrdersCount)
	assert.Equal(t, 1, sum.PositionsCount)
	assert.Equal(t, 1, sum.AccountsCount)
	assert.Equal(t, 1, sum.BestFxPricesCount)
	assert.Equal(t, 0, sum.BestTradingPricesCount)

	require.Len(t, f.repo.records, 1)
	assert.Equal(t, snapshot.StatusFinal, f.repo.records[0].Status)
	assert.Equal(t, 0, f.workflow.completed, "final snapshots leave the draft workflow alone")
	assert.Len(t, f.notifier.summaries, 1)
	assert.False(t, f.svc.InProgress())
}

func TestMakeSnapshot_DraftCompletesWorkflow(t *testing.T) {
	f := newTestFixture(t, nil)

	_, err := f.make(snapshot.StatusDraft)
	require.NoError(t, err)
	assert.Equal(t, 1, f.workflow.completed)
	require.Len(t, f.workflow.days, 1)
	assert.True(t, day.Equal(f.workflow.days[0]))

	exists, err := f.svc.DraftExists(context.Background(), day.Add(3*time.Hour))
	require.NoError(t, err)
	assert.True(t, exists)

	last, err := f.svc.LastDraft(context.Background(), day)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, "cid-1", last.CorrelationID)
}

func TestMakeSnapshot_SideEffectFailuresDoNotFailSnapshot(t *testing.T) {
	f := newTestFixture(t, nil)
	f.workflow.err = errors.New("redis down")
	f.notifier.err = errors.New("nats down")

	_, err := f.make(snapshot.StatusDraft)
	require.NoError(t, err)
	assert.Len(t, f.repo.records, 1)
}

// ============================================================================
// Test: Preconditions
// ============================================================================

func TestMakeSnapshot_RefusesWhileTradingEnabled(t *testing.T) {
	f := newTestFixture(t, nil)
	f.schedule.Open(ts)

	_, err := f.make(snapshot.StatusFinal)
	assert.ErrorIs(t, err, snapshot.ErrTradingEnabled)
	assert.Empty(t, f.repo.records)
}

func TestMakeSnapshot_RefusesOtherTradingDay(t *testing.T) {
	f := newTestFixture(t, nil)

	_, err := f.svc.MakeSnapshot(context.Background(), day.AddDate(0, 0, -1), "cid", validation.StrategyAsSoonAsPossible, "test", snapshot.StatusFinal)
	assert.ErrorIs(t, err, snapshot.ErrTradingEnabled)
}

func TestMakeSnapshot_RefusesUndeliveredMessages(t *testing.T) {
	f := newTestFixture(t, nil)
	svc := snapshot.NewService(snapshot.Deps{
		Strategies:    validation.NewStrategies(nil, validation.StrategyConfig{}, observability.NewMetrics(prometheus.NewRegistry()), zerolog.Nop()),
		Accounts:      f.accounts,
		FxQuotes:      state.NewQuotesCache(),
		TradingQuotes: state.NewQuotesCache(),
		Repository:    f.repo,
		Queues:        stubQueues{err: snapshot.ErrUndeliveredMessages},
		Schedule:      f.schedule,
	}, observability.NewMetrics(prometheus.NewRegistry()), zerolog.Nop())

	_, err := svc.MakeSnapshot(context.Background(), day, "cid", validation.StrategyAsSoonAsPossible, "test", snapshot.StatusFinal)
	assert.ErrorIs(t, err, snapshot.ErrUndeliveredMessages)
	assert.False(t, svc.InProgress())
}

// ============================================================================
// Test: Validation and persistence failures
// ============================================================================

func TestMakeSnapshot_InvalidEnvironmentAborts(t *testing.T) {
	f := newTestFixture(t, nil)
	f.orders.UpsertOrder(state.Order{ID: "o-2", AccountID: "ghost", Status: state.OrderStatusActive, Volume: decimal.NewFromInt(1)})

	_, err := f.make(snapshot.StatusFinal)

	var verr *validation.Error
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, validation.KindInconsistentData, verr.Kind)
	assert.Empty(t, f.repo.records)
	assert.False(t, f.svc.InProgress(), "lock is released on failure")
	assert.True(t, strings.Contains(f.logs.String(), `"level":"fatal"`))
}

func TestMakeSnapshot_PersistenceFailureReleasesLock(t *testing.T) {
	f := newTestFixture(t, nil)
	boom := errors.New("connection reset")
	f.repo.err = boom

	_, err := f.make(snapshot.StatusDraft)
	assert.ErrorIs(t, err, boom)
	assert.False(t, f.svc.InProgress())
	assert.Equal(t, 0, f.workflow.completed)

	f.repo.err = nil
	_, err = f.make(snapshot.StatusDraft)
	assert.NoError(t, err)
}

func TestMakeSnapshot_EmptyOrdersFailsBuild(t *testing.T) {
	f := newTestFixture(t, nil)
	f.orders.Init(nil, nil)

	_, err := f.make(snapshot.StatusFinal)
	assert.ErrorIs(t, err, snapshot.ErrInvalidOperation)
	assert.Empty(t, f.repo.records)
}

func TestMakeSnapshot_UnknownStrategy(t *testing.T) {
	f := newTestFixture(t, nil)
	_, err := f.svc.MakeSnapshot(context.Background(), day, "cid", validation.StrategyType(9), "test", snapshot.StatusFinal)
	assert.Error(t, err)
	assert.False(t, f.svc.InProgress())
}

// ============================================================================
// Test: Mutual exclusion
// ============================================================================

func TestMakeSnapshot_ConcurrentCallsFailFast(t *testing.T) {
	g := &gate{entered: make(chan struct{}, 1), release: make(chan struct{})}
	f := newTestFixture(t, func(v validation.Validator) validation.Validator {
		g.next = v
		return g
	})

	firstDone := make(chan error, 1)
	go func() {
		_, err := f.make(snapshot.StatusFinal)
		firstDone <- err
	}()
	<-g.entered
	assert.True(t, f.svc.InProgress())

	const others = 8
	var wg sync.WaitGroup
	errs := make([]error, others)
	for i := 0; i < others; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.make(snapshot.StatusFinal)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.ErrorIs(t, err, snapshot.ErrSnapshotInProgress)
		assert.ErrorIs(t, err, snapshot.ErrInvalidOperation)
	}

	close(g.release)
	require.NoError(t, <-firstDone)
	assert.False(t, f.svc.InProgress())
	assert.Len(t, f.repo.records, 1)
}

// ============================================================================
// Test: CreationRequest
// ============================================================================

func TestCreationRequest_EffectiveCorrelationID(t *testing.T) {
	r := snapshot.NewCreationRequest(day, snapshot.StatusDraft, validation.StrategyAsSoonAsPossible, "MarketClosure", "", ts)
	assert.Equal(t, r.ID.String(), r.EffectiveCorrelationID())
	assert.Equal(t, r.ID, r.RequestID())

	r.CorrelationID = "cid-9"
	assert.Equal(t, "cid-9", r.EffectiveCorrelationID())
}
