package validation_test

import (
	"MarginTrading/internal/observability"
	"MarginTrading/internal/state"
	"MarginTrading/internal/validation"
	"bytes"
	"context"
	"encoding/json"
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

// --- Helpers ---

func newTestMetrics() *observability.Metrics {
	return observability.NewMetrics(prometheus.NewRegistry())
}

type memoryBlobs struct {
	mu   sync.Mutex
	data map[string][]byte
	err  error
}

func (b *memoryBlobs) Put(ctx context.Context, key string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	if b.data == nil {
		b.data = make(map[string][]byte)
	}
	b.data[key] = data
	return nil
}

// scripted returns the given validity sequence, repeating the last value.
type scripted struct {
	mu    sync.Mutex
	seq   []bool
	calls int
}

func (s *scripted) Validate(ctx context.Context, correlationID string) validation.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	if i >= len(s.seq) {
		i = len(s.seq) - 1
	}
	s.calls++
	if s.seq[i] {
		return validation.Result{Valid: true}
	}
	return validation.Result{Err: &validation.Error{
		Kind:          validation.KindInconsistentData,
		CorrelationID: correlationID,
		Violations:    []validation.Violation{{Rule: validation.RuleZeroVolume, EntityID: "p-1"}},
	}}
}

func countLevel(buf *bytes.Buffer, level string) int {
	n := 0
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if strings.Contains(line, `"level":"`+level+`"`) {
			n++
		}
	}
	return n
}

func order(id, account string) state.Order {
	return state.Order{ID: id, AccountID: account, Status: state.OrderStatusActive, Volume: decimal.NewFromInt(1)}
}

func position(id, account string) state.Position {
	return state.Position{ID: id, AccountID: account, Volume: decimal.NewFromInt(1)}
}

func accounts(ids ...string) *state.AccountsCache {
	c := state.NewAccountsCache(nil)
	list := make([]state.Account, 0, len(ids))
	for _, id := range ids {
		list = append(list, state.Account{ID: id})
	}
	c.Init(list)
	return c
}

func rules(vs []validation.Violation) []string {
	out := make([]string, 0, len(vs))
	for _, v := range vs {
		out = append(out, v.Rule)
	}
	return out
}

// ============================================================================
// Test: StructuralChecker
// ============================================================================

func TestStructuralChecker_ConsistentCache(t *testing.T) {
	o1 := order("o-1", "a-1")
	o1.ParentPositionID = "p-1"
	p1 := position("p-1", "a-1")
	p1.RelatedOrderIDs = []string{"o-1"}

	vs, err := validation.NewStructuralChecker(accounts("a-1")).
		Check(context.Background(), state.NewFrozenOrders([]state.Order{o1}, []state.Position{p1}))
	require.NoError(t, err)
	assert.Empty(t, vs)
}

func TestStructuralChecker_Violations(t *testing.T) {
	closed := order("o-2", "a-1")
	closed.Status = state.OrderStatusExecuted
	dangling := order("o-3", "a-1")
	dangling.ParentPositionID = "p-missing"
	flat := position("p-2", "a-1")
	flat.Volume = decimal.Zero

	cases := []struct {
		name      string
		orders    []state.Order
		positions []state.Position
		want      string
	}{
		{"duplicate order", []state.Order{order("o-1", "a-1"), order("o-1", "a-1")}, nil, validation.RuleDuplicateOrder},
		{"duplicate position", nil, []state.Position{position("p-1", "a-1"), position("p-1", "a-1")}, validation.RuleDuplicatePosition},
		{"closed order", []state.Order{closed}, nil, validation.RuleClosedOrder},
		{"orphaned order", []state.Order{order("o-1", "ghost")}, nil, validation.RuleOrphanedOrder},
		{"orphaned position", nil, []state.Position{position("p-1", "ghost")}, validation.RuleOrphanedPosition},
		{"dangling parent", []state.Order{dangling}, nil, validation.RuleDanglingRelation},
		{"zero volume", nil, []state.Position{flat}, validation.RuleZeroVolume},
	}

	checker := validation.NewStructuralChecker(accounts("a-1"))
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			vs, err := checker.Check(context.Background(), state.NewFrozenOrders(tc.orders, tc.positions))
			require.NoError(t, err)
			assert.Equal(t, []string{tc.want}, rules(vs))
		})
	}
}

func TestStructuralChecker_NilAccountsSkipsOrphanRules(t *testing.T) {
	vs, err := validation.NewStructuralChecker(nil).
		Check(context.Background(), state.NewFrozenOrders([]state.Order{order("o-1", "ghost")}, nil))
	require.NoError(t, err)
	assert.Empty(t, vs)
}

// ============================================================================
// Test: EnvironmentValidator
// ============================================================================

func TestEnvironmentValidator_Valid(t *testing.T) {
	cache := state.NewOrdersCache()
	cache.UpsertOrder(order("o-1", "a-1"))

	v := validation.NewEnvironmentValidator(cache, validation.NewStructuralChecker(accounts("a-1")),
		&memoryBlobs{}, newTestMetrics(), zerolog.Nop())

	res := v.Validate(context.Background(), "cid-1")
	require.True(t, res.Valid)
	assert.NoError(t, res.Err)
	require.NotNil(t, res.Cache)
	assert.Len(t, res.Cache.GetAllOrders(), 1)
}

func TestEnvironmentValidator_InconsistentWritesDiagnostics(t *testing.T) {
	cache := state.NewOrdersCache()
	cache.UpsertOrder(order("o-1", "ghost"))
	blobs := &memoryBlobs{}

	v := validation.NewEnvironmentValidator(cache, validation.NewStructuralChecker(accounts("a-1")),
		blobs, newTestMetrics(), zerolog.Nop())

	res := v.Validate(context.Background(), "cid-2")
	require.False(t, res.Valid)

	var verr *validation.Error
	require.ErrorAs(t, res.Err, &verr)
	assert.Equal(t, validation.KindInconsistentData, verr.Kind)
	assert.Equal(t, "cid-2", verr.CorrelationID)

	raw, ok := blobs.data[validation.DiagnosticsKey("cid-2")]
	require.True(t, ok)
	var diag validation.Diagnostics
	require.NoError(t, json.Unmarshal(raw, &diag))
	assert.Equal(t, "cid-2", diag.CorrelationID)
	assert.Equal(t, []string{validation.RuleOrphanedOrder}, rules(diag.Violations))
	assert.Len(t, diag.Orders, 1)
}

func TestEnvironmentValidator_BlobFailureStillInvalid(t *testing.T) {
	cache := state.NewOrdersCache()
	cache.UpsertOrder(order("o-1", "ghost"))
	var buf bytes.Buffer

	v := validation.NewEnvironmentValidator(cache, validation.NewStructuralChecker(accounts()),
		&memoryBlobs{err: errors.New("disk full")}, newTestMetrics(), zerolog.New(&buf))

	res := v.Validate(context.Background(), "cid-3")
	assert.False(t, res.Valid)
	assert.Equal(t, 1, countLevel(&buf, "error"))
}

func TestEnvironmentValidator_CheckerErrorIsUnknownKind(t *testing.T) {
	boom := errors.New("io failure")
	checker := validation.CheckerFunc(func(context.Context, state.OrderReader) ([]validation.Violation, error) {
		return nil, boom
	})
	v := validation.NewEnvironmentValidator(state.NewOrdersCache(), checker, nil, newTestMetrics(), zerolog.Nop())

	res := v.Validate(context.Background(), "cid-4")
	require.False(t, res.Valid)
	var verr *validation.Error
	require.ErrorAs(t, res.Err, &verr)
	assert.Equal(t, validation.KindUnknown, verr.Kind)
	assert.ErrorIs(t, res.Err, boom)
}

func TestEnvironmentValidator_CheckerPanicIsUnknownKind(t *testing.T) {
	checker := validation.CheckerFunc(func(context.Context, state.OrderReader) ([]validation.Violation, error) {
		panic("nil map")
	})
	v := validation.NewEnvironmentValidator(state.NewOrdersCache(), checker, nil, newTestMetrics(), zerolog.Nop())

	res := v.Validate(context.Background(), "cid-5")
	require.False(t, res.Valid)
	var verr *validation.Error
	require.ErrorAs(t, res.Err, &verr)
	assert.Equal(t, validation.KindUnknown, verr.Kind)
	assert.NotNil(t, res.Cache)
}

// ============================================================================
// Test: Strategies
// ============================================================================

func TestAsSoonAsPossible_SingleCall(t *testing.T) {
	inner := &scripted{seq: []bool{false, true}}
	res := validation.NewAsSoonAsPossible(inner).Validate(context.Background(), "cid")
	assert.False(t, res.Valid)
	assert.Equal(t, 1, inner.calls)
}

func TestPreferConsistency_InvalidTwiceThenValid(t *testing.T) {
	var buf bytes.Buffer
	inner := &scripted{seq: []bool{false, false, true}}
	s := validation.NewPreferConsistency(inner, 3, time.Millisecond, zerolog.New(&buf))

	res := s.Validate(context.Background(), "cid")

	assert.True(t, res.Valid)
	assert.Equal(t, 3, inner.calls)
	assert.Equal(t, 2, countLevel(&buf, "warn"))
	assert.Contains(t, buf.String(), validation.RuleZeroVolume, "retry log carries the failure payload")
}

func TestPreferConsistency_ReturnsLastResultAfterRetries(t *testing.T) {
	var buf bytes.Buffer
	inner := &scripted{seq: []bool{false}}
	s := validation.NewPreferConsistency(inner, 3, time.Millisecond, zerolog.New(&buf))

	res := s.Validate(context.Background(), "cid")

	assert.False(t, res.Valid)
	assert.Equal(t, 4, inner.calls, "one initial attempt plus three retries")
	assert.Equal(t, 3, countLevel(&buf, "warn"))
}

func TestPreferConsistency_LinearBackoff(t *testing.T) {
	inner := &scripted{seq: []bool{false, false, true}}
	s := validation.NewPreferConsistency(inner, 3, 20*time.Millisecond, zerolog.Nop())

	start := time.Now()
	s.Validate(context.Background(), "cid")
	// 1×20ms + 2×20ms
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
}

func TestPreferConsistency_CancelledDuringBackoff(t *testing.T) {
	inner := &scripted{seq: []bool{false}}
	s := validation.NewPreferConsistency(inner, 3, time.Hour, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	res := s.Validate(ctx, "cid")
	assert.False(t, res.Valid)
	assert.Equal(t, 1, inner.calls)
}

func TestWithLogging_WarnsOnInvalidFinalResult(t *testing.T) {
	var buf bytes.Buffer
	metrics := newTestMetrics()

	valid := validation.WithLogging(&scripted{seq: []bool{true}}, validation.StrategyAsSoonAsPossible, metrics, zerolog.New(&buf))
	valid.Validate(context.Background(), "cid")
	assert.Equal(t, 0, countLevel(&buf, "warn"))

	invalid := validation.WithLogging(&scripted{seq: []bool{false}}, validation.StrategyAsSoonAsPossible, metrics, zerolog.New(&buf))
	invalid.Validate(context.Background(), "cid")
	assert.Equal(t, 1, countLevel(&buf, "warn"))
}

func TestStrategies_For(t *testing.T) {
	inner := &scripted{seq: []bool{true}}
	s := validation.NewStrategies(inner, validation.StrategyConfig{Retries: 3, BackoffUnit: time.Millisecond},
		newTestMetrics(), zerolog.Nop())

	for _, st := range []validation.StrategyType{validation.StrategyAsSoonAsPossible, validation.StrategyWaitPlatformConsistency} {
		v, err := s.For(st)
		require.NoError(t, err, st.String())
		assert.True(t, v.Validate(context.Background(), "cid").Valid)
	}

	_, err := s.For(validation.StrategyType(42))
	assert.Error(t, err)
}

func TestStrategyType_TextRoundTrip(t *testing.T) {
	var st validation.StrategyType
	require.NoError(t, st.UnmarshalText([]byte("WaitPlatformConsistency")))
	assert.Equal(t, validation.StrategyWaitPlatformConsistency, st)

	require.NoError(t, st.UnmarshalText([]byte("asap")))
	assert.Equal(t, validation.StrategyAsSoonAsPossible, st)

	assert.Error(t, st.UnmarshalText([]byte("eventually")))
}
