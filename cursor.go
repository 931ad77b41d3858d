package trino

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
)

// Row is one decoded result row, positionally matching the cursor's columns.
type Row []any

// Cursor is a pull-style iterator over a query's decoded rows. It hides the
// page structure of the statement protocol: Next yields rows one at a time,
// fetching further pages on demand, and reports io.EOF once the query
// finished and every row was delivered.
type Cursor struct {
	st      *StatementClient
	page    *ResultPage
	pos     int
	columns []Column
	done    bool
	err     error
}

// Cursor returns a row iterator over the statement's results. The cursor
// assumes ownership of the page stream; mixing Cursor.Next with direct
// Advance calls on the same StatementClient is not supported.
func (st *StatementClient) Cursor() *Cursor {
	return &Cursor{st: st}
}

// SubmitCursor submits the query and returns a cursor over its rows.
func (s *Session) SubmitCursor(ctx context.Context, query string, opts ...RequestOption) (*Cursor, error) {
	st, err := s.Submit(ctx, query, opts...)
	if err != nil {
		return nil, err
	}
	return st.Cursor(), nil
}

// Columns returns the result metadata. Before the server has planned the
// query this may be nil; it is always set once Next has returned a row.
func (c *Cursor) Columns() []Column {
	if c.columns != nil {
		return c.columns
	}
	return c.st.Columns()
}

// Statement returns the underlying statement client, for access to
// statistics, warnings and the query id.
func (c *Cursor) Statement() *StatementClient {
	return c.st
}

// Next returns the next decoded row. It blocks on page fetches as needed
// and returns io.EOF once the result set is exhausted. After any non-nil
// error the cursor is spent and further calls return the same error.
func (c *Cursor) Next(ctx context.Context) (Row, error) {
	if c.err != nil {
		return nil, c.err
	}
	if c.done {
		return nil, io.EOF
	}

	for c.page == nil || c.pos >= len(c.page.Data) {
		page, err := c.st.Advance(ctx)
		if err != nil {
			c.err = err
			return nil, err
		}
		if page == nil {
			c.done = true
			return nil, io.EOF
		}
		if c.columns == nil {
			c.columns = page.Columns
		} else if !sameColumns(c.columns, page.Columns) {
			c.err = &ProtocolError{Reason: "column metadata changed between result pages"}
			return nil, c.err
		}
		c.page = page
		c.pos = 0
	}

	row, err := c.decodeRow(c.page.Data[c.pos])
	if err != nil {
		c.err = err
		return nil, err
	}
	c.pos++
	return row, nil
}

// decodeRow decodes one encoded row against the cursor's column metadata.
func (c *Cursor) decodeRow(raw json.RawMessage) (Row, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var values []any
	if err := dec.Decode(&values); err != nil {
		return nil, &ProtocolError{Reason: "malformed result row", Cause: err}
	}
	if len(values) != len(c.columns) {
		return nil, &ProtocolError{
			Reason: fmt.Sprintf("row has %d values for %d columns", len(values), len(c.columns)),
		}
	}

	row := make(Row, len(values))
	for i, v := range values {
		decoded, err := DecodeValue(v, c.columns[i].TypeSignature)
		if err != nil {
			return nil, &DecodingError{
				Column: c.columns[i].Name,
				Index:  i,
				Type:   c.columns[i].Type,
				Cause:  err,
			}
		}
		row[i] = decoded
	}
	return row, nil
}

// Close releases the cursor, cancelling the query if it has not yet reached
// a terminal state. It never fails; closing an exhausted cursor is a no-op.
func (c *Cursor) Close() {
	if c.done || c.st.State().IsTerminal() {
		return
	}
	c.st.Cancel()
	c.done = true
}
