package outbox_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/vasiliy-maslov/storefront/internal/outbox"
	"github.com/vasiliy-maslov/storefront/internal/store/memory"
)

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, records []outbox.Record) error {
	return m.Called(ctx, records).Error(0)
}

func keys(records []outbox.Record) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.Key)
	}
	return out
}

func TestWriter_Envelope(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	w := outbox.NewWriter(s.Outbox(), "storefront.orders")

	require.NoError(t, w.Write(ctx, outbox.EventOrderCreated, "order-1", map[string]int{"orderId": 1}))

	recs, err := s.Outbox().FetchPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "storefront.orders", recs[0].Topic)
	assert.Equal(t, "order-1", recs[0].Key)

	var env struct {
		outbox.Envelope
		Data map[string]int `json:"data"`
	}
	require.NoError(t, json.Unmarshal(recs[0].Payload, &env))
	assert.Equal(t, recs[0].EventID.String(), env.EventID)
	assert.Equal(t, outbox.EventOrderCreated, env.Type)
	assert.Equal(t, map[string]int{"orderId": 1}, env.Data)
}

func TestRelay_Flush(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	w := outbox.NewWriter(s.Outbox(), "storefront.orders")
	for _, key := range []string{"order-1", "order-2", "order-3"} {
		require.NoError(t, w.Write(ctx, outbox.EventOrderCreated, key, nil))
	}

	wholeBatch := mock.MatchedBy(func(records []outbox.Record) bool {
		return assert.ObjectsAreEqual([]string{"order-1", "order-2", "order-3"}, keys(records))
	})
	pub := new(MockPublisher)
	pub.On("Publish", mock.Anything, wholeBatch).Return(errors.New("broker down")).Once()
	relay := outbox.NewRelay(s, s.Outbox(), pub, time.Second)

	sent, err := relay.Flush(ctx)
	require.NoError(t, err)
	assert.Zero(t, sent, "a failed batch stays pending")

	pub.On("Publish", mock.Anything, wholeBatch).Return(nil).Once()
	sent, err = relay.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, sent)

	sent, err = relay.Flush(ctx)
	require.NoError(t, err)
	assert.Zero(t, sent)
	pub.AssertExpectations(t)
	pub.AssertNumberOfCalls(t, "Publish", 2)
}

func TestRelay_RunStopsOnCancel(t *testing.T) {
	s := memory.New()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- outbox.NewRelay(s, s.Outbox(), outbox.LogPublisher{}, 10*time.Millisecond).Run(ctx)
	}()
	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("relay did not stop after cancel")
	}
}
