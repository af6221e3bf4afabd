// ABOUTME: Tests for the channel registry, retry behavior and bulk fallback

package channel

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDispatcher struct {
	name     string
	failures int
	calls    int
}

func (f *fakeDispatcher) Name() string { return f.name }

func (f *fakeDispatcher) Send(ctx context.Context, msg Message) (DeliveryResult, error) {
	f.calls++
	if f.calls <= f.failures {
		return DeliveryResult{}, errors.New("transient")
	}
	return DeliveryResult{Delivered: true, At: time.Now()}, nil
}

func TestSendNoAdapter(t *testing.T) {
	r := NewRegistry(nil)

	_, err := r.Send(context.Background(), Message{Channel: "sms"})
	assert.ErrorIs(t, err, ErrNoAdapter)
}

func TestSendRetriesOnce(t *testing.T) {
	r := NewRegistry(nil)
	d := &fakeDispatcher{name: "sms", failures: 1}
	r.RegisterDispatcher(d)

	res, err := r.Send(context.Background(), Message{Channel: "sms", PatientID: "p-1", Text: "hi"})
	require.NoError(t, err)
	assert.True(t, res.Delivered)
	assert.Equal(t, 2, d.calls)
}

func TestSendGivesUpAfterRetry(t *testing.T) {
	r := NewRegistry(nil)
	d := &fakeDispatcher{name: "sms", failures: 2}
	r.RegisterDispatcher(d)

	_, err := r.Send(context.Background(), Message{Channel: "sms"})
	assert.Error(t, err)
	assert.Equal(t, 2, d.calls)
}

func TestSendBulkFallsBackToSingle(t *testing.T) {
	r := NewRegistry(nil)
	d := &fakeDispatcher{name: "email"}
	r.RegisterDispatcher(d)

	msgs := []Message{
		{Channel: "email", Text: "one"},
		{Channel: "email", Text: "two"},
	}
	results, err := r.SendBulk(context.Background(), "email", msgs)
	require.NoError(t, err)
	assert.Len(t, results, 2)
	assert.Equal(t, 2, d.calls)
}
