package server

import (
	"MarginTrading/internal/observability"
	"MarginTrading/internal/queue"
	"MarginTrading/internal/schedule"
	"MarginTrading/internal/snapshot"
	"MarginTrading/internal/validation"
	"MarginTrading/internal/workflow"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
)

// APIInitiator is recorded when a request body names no initiator.
const APIInitiator = "AdminApi"

// SnapshotQueue is the waitable request queue seen by the API.
type SnapshotQueue interface {
	EnqueueAndWait(ctx context.Context, req snapshot.CreationRequest) (snapshot.Summary, error)
	Len() int
	Waiting() int
	InFlight() (snapshot.CreationRequest, bool)
	Stats() queue.Stats
}

// SnapshotService reports service state and loads persisted drafts.
type SnapshotService interface {
	InProgress() bool
	LastDraft(ctx context.Context, tradingDay time.Time) (*snapshot.TradingEngineSnapshot, error)
}

// SnapshotHistory lists persisted snapshots.
type SnapshotHistory interface {
	ListSummaries(ctx context.Context, tradingDay time.Time) ([]snapshot.Summary, error)
}

// DraftControl exposes the draft workflow to operators.
type DraftControl interface {
	Tracker() *workflow.SynchronizedTracker
	Reset(ctx context.Context) error
}

// ScheduleView reports the platform trading window.
type ScheduleView interface {
	Current() schedule.Window
}

// AdminAPI serves the snapshot admin routes on a gRPC-Gateway runtime mux.
type AdminAPI struct {
	Queue       SnapshotQueue
	Service     SnapshotService
	History     SnapshotHistory
	Drafts      DraftControl
	Schedule    ScheduleView
	WaitTimeout time.Duration

	Metrics *observability.Metrics
	Logger  zerolog.Logger
	Now     func() time.Time
}

// Register binds every admin route.
func (a *AdminAPI) Register(mux *runtime.ServeMux) error {
	routes := []struct {
		method, pattern, name string
		h                     runtime.HandlerFunc
	}{
		{http.MethodPost, "/api/v1/snapshots", "create_snapshot", a.createSnapshot},
		{http.MethodGet, "/api/v1/snapshots/status", "status", a.status},
		{http.MethodGet, "/api/v1/snapshots/days/{trading_day}", "list_snapshots", a.listSnapshots},
		{http.MethodGet, "/api/v1/snapshots/drafts/{trading_day}", "last_draft", a.lastDraft},
		{http.MethodPost, "/api/v1/snapshots/drafts/reset", "reset_drafts", a.resetDrafts},
	}
	for _, r := range routes {
		if err := mux.HandlePath(r.method, r.pattern, a.instrument(r.name, r.h)); err != nil {
			return err
		}
	}
	return nil
}

func (a *AdminAPI) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now().UTC()
}

// statusRecorder captures the response code for metrics.
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func (a *AdminAPI) instrument(route string, h runtime.HandlerFunc) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		h(rec, r, params)
		a.Metrics.APIRequests.WithLabelValues(route, strconv.Itoa(rec.code)).Inc()
		a.Metrics.APIDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

// --- Create snapshot ---

type createSnapshotBody struct {
	TradingDay    string `json:"trading_day"`
	Status        string `json:"status"`
	Strategy      string `json:"strategy"`
	CorrelationID string `json:"correlation_id"`
	Initiator     string `json:"initiator"`
}

func (a *AdminAPI) createSnapshot(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var body createSnapshotBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, codes.InvalidArgument, "invalid body: "+err.Error())
		return
	}

	day, err := schedule.ParseTradingDay(body.TradingDay)
	if err != nil {
		writeError(w, codes.InvalidArgument, "invalid trading_day: "+err.Error())
		return
	}
	status, err := snapshot.ParseStatus(body.Status)
	if err != nil {
		writeError(w, codes.InvalidArgument, err.Error())
		return
	}
	strategy := validation.StrategyAsSoonAsPossible
	if body.Strategy != "" {
		if strategy, err = validation.ParseStrategyType(body.Strategy); err != nil {
			writeError(w, codes.InvalidArgument, err.Error())
			return
		}
	}
	initiator := body.Initiator
	if initiator == "" {
		initiator = APIInitiator
	}

	req := snapshot.NewCreationRequest(day, status, strategy, initiator, body.CorrelationID, a.now())

	ctx := r.Context()
	if a.WaitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.WaitTimeout)
		defer cancel()
	}

	summary, err := a.Queue.EnqueueAndWait(ctx, req)
	if err != nil {
		code := CodeFor(err)
		a.Logger.Warn().
			Err(err).
			Str("request_id", req.ID.String()).
			Str("code", code.String()).
			Msg("snapshot request failed")
		writeError(w, code, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// --- Status ---

type draftStatus struct {
	State       string     `json:"state"`
	TradingDay  *time.Time `json:"trading_day,omitempty"`
	RequestedAt *time.Time `json:"requested_at,omitempty"`
}

type statusResponse struct {
	InProgress bool            `json:"in_progress"`
	QueueDepth int             `json:"queue_depth"`
	Waiting    int             `json:"waiting"`
	InFlight   string          `json:"in_flight,omitempty"`
	Queue      queue.Stats     `json:"queue"`
	Draft      draftStatus     `json:"draft"`
	Trading    schedule.Window `json:"trading"`
}

func (a *AdminAPI) status(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	resp := statusResponse{
		InProgress: a.Service.InProgress(),
		QueueDepth: a.Queue.Len(),
		Waiting:    a.Queue.Waiting(),
		Queue:      a.Queue.Stats(),
		Trading:    a.Schedule.Current(),
	}
	if req, ok := a.Queue.InFlight(); ok {
		resp.InFlight = req.ID.String()
	}

	st, day, at := a.Drafts.Tracker().Snapshot()
	resp.Draft.State = st.String()
	if st != workflow.StatePending {
		resp.Draft.TradingDay = &day
		resp.Draft.RequestedAt = &at
	}
	writeJSON(w, http.StatusOK, resp)
}

// --- History ---

type listResponse struct {
	TradingDay string             `json:"trading_day"`
	Snapshots  []snapshot.Summary `json:"snapshots"`
}

func (a *AdminAPI) listSnapshots(w http.ResponseWriter, r *http.Request, params map[string]string) {
	day, err := schedule.ParseTradingDay(params["trading_day"])
	if err != nil {
		writeError(w, codes.InvalidArgument, "invalid trading_day: "+err.Error())
		return
	}

	summaries, err := a.History.ListSummaries(r.Context(), day)
	if err != nil {
		writeError(w, CodeFor(err), err.Error())
		return
	}
	if summaries == nil {
		summaries = []snapshot.Summary{}
	}
	writeJSON(w, http.StatusOK, listResponse{TradingDay: day.Format(time.DateOnly), Snapshots: summaries})
}

// --- Drafts ---

func (a *AdminAPI) lastDraft(w http.ResponseWriter, r *http.Request, params map[string]string) {
	day, err := schedule.ParseTradingDay(params["trading_day"])
	if err != nil {
		writeError(w, codes.InvalidArgument, "invalid trading_day: "+err.Error())
		return
	}

	rec, err := a.Service.LastDraft(r.Context(), day)
	if err != nil {
		writeError(w, CodeFor(err), err.Error())
		return
	}
	if rec == nil {
		writeError(w, codes.NotFound, "no draft snapshot for "+day.Format(time.DateOnly))
		return
	}
	writeJSON(w, http.StatusOK, rec.Summary())
}

func (a *AdminAPI) resetDrafts(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	if err := a.Drafts.Reset(r.Context()); err != nil {
		writeError(w, CodeFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"state": a.Drafts.Tracker().State().String()})
}

// ============================================================================
// Errors
// ============================================================================

// CodeFor maps snapshot pipeline errors onto gRPC status codes.
func CodeFor(err error) codes.Code {
	var verr *validation.Error
	switch {
	case err == nil:
		return codes.OK
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	case errors.Is(err, snapshot.ErrTradingEnabled):
		return codes.FailedPrecondition
	case errors.Is(err, snapshot.ErrSnapshotInProgress):
		return codes.Aborted
	case errors.Is(err, snapshot.ErrUndeliveredMessages):
		return codes.Unavailable
	case errors.As(err, &verr):
		if verr.Kind == validation.KindInconsistentData {
			return codes.FailedPrecondition
		}
		return codes.Internal
	case errors.Is(err, snapshot.ErrInvalidOperation):
		return codes.FailedPrecondition
	default:
		return codes.Internal
	}
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, code codes.Code, msg string) {
	writeJSON(w, runtime.HTTPStatusFromCode(code), errorBody{Code: code.String(), Message: msg})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
