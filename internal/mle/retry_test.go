package mle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/metabridge/internal/transform"
)

type scriptedSyncer struct {
	results []*Result
	errs    []error
	calls   int
}

func (s *scriptedSyncer) next() (*Result, error) {
	i := s.calls
	if i >= len(s.results) {
		i = len(s.results) - 1
	}
	s.calls++
	var err error
	if i < len(s.errs) {
		err = s.errs[i]
	}
	return s.results[i], err
}

func (s *scriptedSyncer) Create(ctx context.Context, data *transform.NormalizedMetadata) (*Result, error) {
	return s.next()
}

func (s *scriptedSyncer) Update(ctx context.Context, id string, data *transform.NormalizedMetadata) (*Result, error) {
	return s.next()
}

func (s *scriptedSyncer) Remove(ctx context.Context, id string) (*Result, error) {
	return s.next()
}

func TestRetryingSyncer(t *testing.T) {
	t.Run("retries retryable failures until success", func(t *testing.T) {
		inner := &scriptedSyncer{results: []*Result{
			{Success: false, Retryable: true, Error: &ErrorDetail{System: "target", Retryable: true}},
			{Success: false, Retryable: true, Error: &ErrorDetail{System: "target", Retryable: true}},
			{Success: true, TargetID: "u1"},
		}}
		s := NewRetryingSyncer(inner, 5, time.Millisecond, nil)

		res, err := s.Create(context.Background(), testMetadata())
		require.NoError(t, err)
		assert.True(t, res.Success)
		assert.Equal(t, 3, inner.calls)
	})

	t.Run("returns the last failure once attempts are exhausted", func(t *testing.T) {
		inner := &scriptedSyncer{results: []*Result{
			{Success: false, Retryable: true, Error: &ErrorDetail{System: "target", Message: "503", Retryable: true}},
		}}
		s := NewRetryingSyncer(inner, 3, time.Millisecond, nil)

		res, err := s.Update(context.Background(), "u1", testMetadata())
		require.NoError(t, err)
		assert.False(t, res.Success)
		assert.True(t, res.Retryable)
		assert.Equal(t, 3, inner.calls)
	})

	t.Run("does not retry non-retryable failures", func(t *testing.T) {
		inner := &scriptedSyncer{results: []*Result{
			{Success: false, Retryable: false, Error: &ErrorDetail{System: "target", StatusCode: 404}},
		}}
		s := NewRetryingSyncer(inner, 5, time.Millisecond, nil)

		res, err := s.Remove(context.Background(), "u1")
		require.NoError(t, err)
		assert.False(t, res.Success)
		assert.Equal(t, 1, inner.calls)
	})

	t.Run("does not retry token errors", func(t *testing.T) {
		authErr := errors.New("bad credentials")
		inner := &scriptedSyncer{
			results: []*Result{nil},
			errs:    []error{authErr},
		}
		s := NewRetryingSyncer(inner, 5, time.Millisecond, nil)

		res, err := s.Create(context.Background(), testMetadata())
		assert.Nil(t, res)
		assert.ErrorIs(t, err, authErr)
		assert.Equal(t, 1, inner.calls)
	})

	t.Run("single attempt bypasses the wrapper", func(t *testing.T) {
		inner := &scriptedSyncer{}
		s := NewRetryingSyncer(inner, 1, time.Millisecond, nil)
		assert.Same(t, inner, s)
	})
}
