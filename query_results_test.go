package trino

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFetchNextBatch_NilQueryResults(t *testing.T) {
	var qr *QueryResults
	err := qr.FetchNextBatch(context.Background())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "nil QueryResults")
}

func TestFetchNextBatch_NoSession(t *testing.T) {
	qr := &QueryResults{}
	nextUri := "http://localhost/next"
	qr.NextUri = &nextUri
	err := qr.FetchNextBatch(context.Background())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "no session associated")
}

func TestHasMoreBatch(t *testing.T) {
	var qr *QueryResults
	assert.False(t, qr.HasMoreBatch())

	qr = &QueryResults{}
	assert.False(t, qr.HasMoreBatch())

	uri := "http://localhost/next"
	qr.NextUri = &uri
	assert.True(t, qr.HasMoreBatch())
}

func TestDrain_NilQueryResults(t *testing.T) {
	var qr *QueryResults
	err := qr.Drain(context.Background(), nil)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "nil QueryResults")
}

func TestDrain_NoBatchesIsNoOp(t *testing.T) {
	qr := &QueryResults{}
	err := qr.Drain(context.Background(), nil)
	assert.NoError(t, err)
}

func TestResultBatchHandler(t *testing.T) {
	handlerErr := errors.New("processing failed")
	handler := ResultBatchHandler(func(qr *QueryResults) error {
		return handlerErr
	})

	qr := &QueryResults{Id: "test-123"}
	err := handler(qr)
	assert.ErrorIs(t, err, handlerErr)
}
