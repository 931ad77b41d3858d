package trino

import (
	"context"
	"fmt"
	"net/http"
)

// requestQueryResults executes an HTTP request and processes the response as
// a QueryResults object. This is the single funnel for every statement
// protocol exchange: submission, polls, and cancellation.
//
// A response's error field takes precedence over its data field: if both are
// populated, the error is returned and the data never surfaces.
func (s *Session) requestQueryResults(ctx context.Context, req *http.Request) (*QueryResults, *http.Response, error) {
	qr := new(QueryResults)
	resp, err := s.Do(ctx, req, qr)
	if err != nil {
		return nil, resp, err
	}
	// Maintain the link to the session for the QueryResults object
	qr.session = s
	if qr.Error != nil {
		return qr, resp, qr.Error
	}
	return qr, resp, nil
}

// Query executes a SQL query on the coordinator.
// This is the primary method for executing queries and returns the initial
// query results. For large result sets, fetch additional batches using the
// NextUri, or use Submit for the managed state machine.
//
// Example:
//
//	results, _, err := session.Query(ctx, "SELECT * FROM my_table LIMIT 100")
//	if err != nil {
//	    return err
//	}
//	// Process results...
func (s *Session) Query(ctx context.Context, query string, opts ...RequestOption) (*QueryResults, *http.Response, error) {
	req, err := s.NewRequest("POST", "v1/statement", query, opts...)
	if err != nil {
		return nil, nil, err
	}

	return s.requestQueryResults(ctx, req)
}

// QueryWithPreMintedID executes a SQL query using a pre-assigned query ID.
// This is useful when the caller wants to control the query ID for tracking
// or management purposes. If queryId is empty, this method falls back to the
// standard Query method.
func (s *Session) QueryWithPreMintedID(ctx context.Context, query, queryId, slug string, opts ...RequestOption) (*QueryResults, *http.Response, error) {
	if queryId == "" {
		return s.Query(ctx, query, opts...)
	}
	req, err := s.NewRequest("PUT",
		fmt.Sprintf("v1/statement/%s?slug=%s", queryId, slug), query, opts...)
	if err != nil {
		return nil, nil, err
	}

	return s.requestQueryResults(ctx, req)
}

// FetchNextBatch retrieves the next batch of results for a query.
// This method should be called when a QueryResults has a non-nil NextUri,
// indicating that more data is available.
func (s *Session) FetchNextBatch(ctx context.Context, nextUri string, opts ...RequestOption) (*QueryResults, *http.Response, error) {
	req, err := s.NewRequest("GET", nextUri, nil, opts...)
	if err != nil {
		return nil, nil, err
	}

	return s.requestQueryResults(ctx, req)
}

// CancelQuery cancels a running query by issuing a DELETE against its
// current poll URI. The response is not required for the correctness of
// local cancellation; callers that must never fail should ignore the error.
func (s *Session) CancelQuery(ctx context.Context, nextUri string, opts ...RequestOption) (*QueryResults, *http.Response, error) {
	req, err := s.NewRequest("DELETE", nextUri, nil, opts...)
	if err != nil {
		return nil, nil, err
	}

	return s.requestQueryResults(ctx, req)
}
