package trino

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// cancelRequestTimeout bounds the best-effort server-side cancellation call.
const cancelRequestTimeout = 30 * time.Second

// ResultPage is one batch of rows together with its column metadata and the
// statistics snapshot it arrived with. Pages are produced in strict server
// order and consumed exactly once.
type ResultPage struct {
	// Columns is the result metadata, identical across all pages of a query.
	Columns []Column

	// Data holds the encoded rows; each element is a JSON array whose
	// entries match Columns positionally.
	Data []json.RawMessage

	// Stats is the statistics snapshot delivered with this page.
	Stats StatementStats

	// Warnings carries any warnings delivered with this page.
	Warnings []Warning
}

// StatementClient drives a single query through the statement protocol:
// submission, the poll chain, and terminal handling. It owns the query's
// state, which only moves forward (never terminal back to non-terminal),
// and it updates the session from every response before yielding a page.
//
// A StatementClient is the single owner of its query; polls are strictly
// sequential and at most one is ever in flight. Cancel may be called
// concurrently with a blocked Advance and aborts the in-flight request.
type StatementClient struct {
	session *Session

	queryId     string
	nextUri     *string
	columns     []Column
	state       QueryState
	stats       StatementStats
	warnings    []Warning
	updateType  *string
	updateCount *int64
	err         error

	timeout  time.Duration
	deadline time.Time

	// cancelPoll aborts the in-flight poll request, if any.
	cancelPoll context.CancelFunc
	canceled   bool

	// mu guards field access only; it is never held across a request.
	mu sync.Mutex
}

// Submit sends the query to the coordinator and returns a handle for the
// poll loop. A server-side rejection (structured error body) surfaces as a
// QueryError; transport failures that outlive the retry budget surface as a
// ProtocolError.
func (s *Session) Submit(ctx context.Context, query string, opts ...RequestOption) (*StatementClient, error) {
	st := &StatementClient{
		session: s,
		state:   StateQueued,
		timeout: s.queryTimeout,
	}
	if st.timeout > 0 {
		st.deadline = time.Now().Add(st.timeout)
	}

	submitCtx, cleanup := st.pollContext(ctx)
	qr, _, err := s.Query(submitCtx, query, opts...)
	cleanup()
	if err != nil {
		return nil, st.classify(ctx, err, qr)
	}

	st.absorb(qr)
	return st, nil
}

// pollContext derives the context for one protocol exchange: bounded by the
// overall query deadline and abortable by Cancel.
func (st *StatementClient) pollContext(ctx context.Context) (context.Context, func()) {
	cancelDeadline := func() {}
	if !st.deadline.IsZero() {
		ctx, cancelDeadline = context.WithDeadline(ctx, st.deadline)
	}
	ctx, cancelPoll := context.WithCancel(ctx)

	st.mu.Lock()
	st.cancelPoll = cancelPoll
	st.mu.Unlock()

	return ctx, func() {
		st.mu.Lock()
		st.cancelPoll = nil
		st.mu.Unlock()
		cancelPoll()
		cancelDeadline()
	}
}

// absorb merges one poll response into the handle. Session-propagation
// headers were already folded by Session.Do before the body was decoded, so
// by the time a page is visible here the session reflects it.
func (st *StatementClient) absorb(qr *QueryResults) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.queryId == "" {
		st.queryId = qr.Id
	}
	if len(qr.Columns) > 0 {
		st.columns = qr.Columns
	}
	st.stats = qr.Stats
	st.warnings = append(st.warnings, qr.Warnings...)
	if qr.UpdateType != nil {
		st.updateType = qr.UpdateType
	}
	if qr.UpdateCount != nil {
		st.updateCount = qr.UpdateCount
	}

	if st.state.IsTerminal() {
		// Monotonic: a terminal state never regresses.
		return
	}

	if qr.Error != nil {
		stats := qr.Stats
		qr.Error.Stats = &stats
		st.err = qr.Error
		st.state = StateFailed
		st.nextUri = nil
		return
	}

	st.nextUri = qr.NextUri
	if qr.NextUri == nil {
		st.state = StateFinished
		return
	}
	if state, err := ParseQueryState(qr.Stats.State); err == nil && !state.IsTerminal() {
		st.state = state
	}
}

// classify maps a transport-level failure onto the error taxonomy and
// records the terminal state it implies.
func (st *StatementClient) classify(ctx context.Context, err error, qr *QueryResults) error {
	var qe *QueryError
	if errors.As(err, &qe) {
		if qr != nil {
			st.absorb(qr)
		} else {
			st.mu.Lock()
			st.err = qe
			st.state = StateFailed
			st.nextUri = nil
			st.mu.Unlock()
		}
		return qe
	}

	st.mu.Lock()
	canceled := st.canceled
	queryId := st.queryId
	timeout := st.timeout
	uri := st.nextUri
	st.mu.Unlock()

	if canceled {
		return &CancellationError{QueryId: queryId}
	}

	if errors.Is(err, context.DeadlineExceeded) && !st.deadline.IsZero() && !time.Now().Before(st.deadline) {
		// Our overall deadline fired. Stop the server-side query too.
		st.abandon(uri)
		tErr := &TimeoutError{QueryId: queryId, Deadline: timeout, Cause: err}
		st.mu.Lock()
		if !st.state.IsTerminal() {
			st.state = StateFailed
			st.err = tErr
			st.nextUri = nil
		}
		st.mu.Unlock()
		return tErr
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		// A single exchange outlived the per-request timeout. This is not
		// a transient network failure: the exchange had its full budget.
		st.abandon(uri)
		tErr := &TimeoutError{
			QueryId:  queryId,
			Deadline: st.session.client.httpClient.Timeout,
			Cause:    err,
		}
		st.mu.Lock()
		if !st.state.IsTerminal() {
			st.state = StateFailed
			st.err = tErr
			st.nextUri = nil
		}
		st.mu.Unlock()
		return tErr
	}

	if errors.Is(err, context.Canceled) {
		// Caller-initiated: local state is guaranteed to reach CANCELED.
		st.abandon(uri)
		st.markCanceled()
		return &CancellationError{QueryId: queryId, Cause: err}
	}

	return err
}

// Advance performs poll steps until it has a page with rows or the query is
// terminal. Intermediate responses that carry no rows are status updates and
// are never emitted as pages. It returns (nil, nil) once the query finished
// with no further data; a failed query returns its QueryError with the
// partial statistics attached.
func (st *StatementClient) Advance(ctx context.Context) (*ResultPage, error) {
	for {
		st.mu.Lock()
		if st.canceled {
			queryId := st.queryId
			st.mu.Unlock()
			return nil, &CancellationError{QueryId: queryId}
		}
		if st.err != nil {
			err := st.err
			st.mu.Unlock()
			return nil, err
		}
		if st.nextUri == nil {
			st.mu.Unlock()
			return nil, nil
		}
		uri := *st.nextUri
		st.mu.Unlock()

		pollCtx, cleanup := st.pollContext(ctx)
		qr, _, err := st.session.FetchNextBatch(pollCtx, uri)
		cleanup()
		if err != nil {
			return nil, st.classify(ctx, err, qr)
		}

		st.absorb(qr)

		if len(qr.Data) > 0 {
			return &ResultPage{
				Columns:  qr.Columns,
				Data:     qr.Data,
				Stats:    qr.Stats,
				Warnings: qr.Warnings,
			}, nil
		}
	}
}

// Cancel aborts the query: it interrupts any blocked poll, marks the local
// state CANCELED, and issues a best-effort cancellation to the server. It
// never returns an error and is idempotent; the local state reaches
// CANCELED even if the server-side call fails.
func (st *StatementClient) Cancel() {
	st.mu.Lock()
	if st.canceled || st.state.IsTerminal() {
		st.mu.Unlock()
		return
	}
	st.canceled = true
	st.state = StateCanceled
	uri := st.nextUri
	st.nextUri = nil
	cancelPoll := st.cancelPoll
	st.mu.Unlock()

	if cancelPoll != nil {
		cancelPoll()
	}
	st.abandon(uri)
}

// abandon issues the server-side DELETE for uri, ignoring all failures.
func (st *StatementClient) abandon(uri *string) {
	if uri == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), cancelRequestTimeout)
	defer cancel()
	if _, _, err := st.session.CancelQuery(ctx, *uri); err != nil {
		log.Debug().Err(err).Str("query_id", st.QueryId()).Msg("server-side cancellation failed")
	}
}

// markCanceled transitions the local state to CANCELED unless the query
// already finished or failed.
func (st *StatementClient) markCanceled() {
	st.mu.Lock()
	defer st.mu.Unlock()
	if !st.state.IsTerminal() || st.state == StateCanceled {
		st.canceled = true
		st.state = StateCanceled
		st.nextUri = nil
	}
}

// QueryId returns the server-assigned query id, "" before the first response.
func (st *StatementClient) QueryId() string {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.queryId
}

// State returns the query's current state.
func (st *StatementClient) State() QueryState {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.state
}

// Stats returns the latest statistics snapshot.
func (st *StatementClient) Stats() StatementStats {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.stats
}

// Columns returns the last-seen column metadata. It is available once the
// server has planned the query, possibly before any rows arrive.
func (st *StatementClient) Columns() []Column {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.columns
}

// Warnings returns all warnings accumulated so far.
func (st *StatementClient) Warnings() []Warning {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.warnings
}

// UpdateType returns the DML update type, if the server reported one.
func (st *StatementClient) UpdateType() *string {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.updateType
}

// UpdateCount returns the DML affected-row count, if the server reported one.
func (st *StatementClient) UpdateCount() *int64 {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.updateCount
}
