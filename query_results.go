package trino

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
)

// QueryResults represents one response of the statement protocol.
// The same shape is returned by submission, every poll, and cancellation;
// fields appear and disappear depending on the query's stage. Which fields
// are present decides what the response means: a nextUri without data is an
// intermediate status, data plus nextUri is a batch, no nextUri is terminal,
// and an error always wins over everything else.
type QueryResults struct {
	// Id is the unique identifier for this query
	Id string `json:"id"`

	// InfoUri is a URI that can be used to get information about the query
	InfoUri string `json:"infoUri"`

	// PartialCancelUri is a URI that can be used to cancel parts of the query
	PartialCancelUri *string `json:"partialCancelUri,omitempty"`

	// NextUri is a URI that can be used to fetch the next batch of results.
	// If nil, the query is in a terminal state.
	NextUri *string `json:"nextUri,omitempty"`

	// Columns contains metadata about the columns in the result set
	Columns []Column `json:"columns,omitempty"`

	// Data contains the rows of this batch as JSON raw messages;
	// each element is an array of encoded column values.
	Data []json.RawMessage `json:"data,omitempty"`

	// Stats contains statistics about the query execution
	Stats StatementStats `json:"stats"`

	// Error contains information about any error that occurred during execution
	Error *QueryError `json:"error,omitempty"`

	// Warnings contains any warnings generated during query execution
	Warnings []Warning `json:"warnings,omitempty"`

	// UpdateType indicates the type of update performed (for INSERT, UPDATE, DELETE)
	UpdateType *string `json:"updateType,omitempty"`

	// UpdateCount indicates the number of rows affected (for INSERT, UPDATE, DELETE)
	UpdateCount *int64 `json:"updateCount,omitempty"`

	// session is a reference to the Session that created this QueryResults.
	// It is used for fetching additional batches and folding session state.
	session *Session
}

// StatementStats contains cumulative statistics reported with every response.
// Values are monotonically non-decreasing until the query reaches a terminal
// state.
type StatementStats struct {
	State              string  `json:"state"`
	Queued             bool    `json:"queued"`
	Scheduled          bool    `json:"scheduled"`
	Nodes              int     `json:"nodes"`
	TotalSplits        int     `json:"totalSplits"`
	QueuedSplits       int     `json:"queuedSplits"`
	RunningSplits      int     `json:"runningSplits"`
	CompletedSplits    int     `json:"completedSplits"`
	CpuTimeMillis      int64   `json:"cpuTimeMillis"`
	WallTimeMillis     int64   `json:"wallTimeMillis"`
	QueuedTimeMillis   int64   `json:"queuedTimeMillis"`
	ElapsedTimeMillis  int64   `json:"elapsedTimeMillis"`
	ProcessedRows      int64   `json:"processedRows"`
	ProcessedBytes     int64   `json:"processedBytes"`
	PeakMemoryBytes    int64   `json:"peakMemoryBytes"`
	ProgressPercentage float64 `json:"progressPercentage,omitempty"`
}

// HasMoreBatch returns true if there are more batches of results to fetch.
// Example:
//
//	for results.HasMoreBatch() {
//	    err := results.FetchNextBatch(ctx)
//	    // Process batch...
//	}
func (qr *QueryResults) HasMoreBatch() bool {
	return qr != nil && qr.NextUri != nil
}

// FetchNextBatch retrieves the next batch of results for this query.
// It updates the current QueryResults object with the new data.
// If the context is canceled during the fetch, the query will be automatically
// canceled on the server.
//
// Responses that carry a nextUri but no rows are intermediate status updates
// (the query is still queued, planning, or running); FetchNextBatch keeps
// polling through them until it gets data or reaches the end of results.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//
// Returns:
//   - An error if the fetch fails or the query returns an error.
//     The error includes the query ID when available.
func (qr *QueryResults) FetchNextBatch(ctx context.Context) error {
	if qr == nil {
		return errors.New("cannot fetch next batch: nil QueryResults")
	}
	if qr.session == nil {
		return errors.New("cannot fetch next batch: no session associated with results")
	}

	for qr.NextUri != nil {
		nextUri := *qr.NextUri
		// Fetching through the session folds session-state headers
		// before the new batch becomes visible here.
		newQr, _, err := qr.session.FetchNextBatch(ctx, nextUri)
		if err != nil {
			if ctx.Err() != nil {
				// Use background context for cleanup so the server-side
				// cancellation still goes out despite the canceled context.
				_, _, cancelErr := qr.session.CancelQuery(context.Background(), nextUri)
				if cancelErr != nil {
					log.Debug().Err(cancelErr).Str("query_id", qr.Id).Msg("failed to cancel query after context cancellation")
				} else {
					log.Debug().Str("query_id", qr.Id).Msg("canceled query because the context was cancelled")
				}
				return fmt.Errorf("fetch next batch failed due to context cancellation for query %s: %w", qr.Id, err)
			}
			return fmt.Errorf("fetch next batch failed for query %s: %w", qr.Id, err)
		}

		// Update internal state while preserving the session reference
		*qr = *newQr
		qr.session = newQr.session

		if len(qr.Data) > 0 {
			break
		}
	}
	return nil
}

// ResultBatchHandler is a function type for processing batches of query results.
type ResultBatchHandler func(qr *QueryResults) error

// Drain fetches and processes all remaining batches of results for this query.
// It clears data after each batch to optimize memory usage.
func (qr *QueryResults) Drain(ctx context.Context, handler ResultBatchHandler) error {
	if qr == nil {
		return errors.New("cannot drain results: nil QueryResults")
	}
	for qr.HasMoreBatch() {
		if err := qr.FetchNextBatch(ctx); err != nil {
			return fmt.Errorf("drain operation failed: %w", err)
		}
		if handler != nil {
			if err := handler(qr); err != nil {
				qr.Data = nil
				return fmt.Errorf("batch handler returned error for query %s: %w", qr.Id, err)
			}
		}
		// Aggressively clear Data to prevent memory bloat during large drains
		qr.Data = nil
	}
	return nil
}
