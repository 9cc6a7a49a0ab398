package fulfillment

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	kafkax "github.com/ariefcatur/go-bookshop-orders.git/internal/kafka"
	"github.com/ariefcatur/go-bookshop-orders.git/internal/orders"
	"github.com/ariefcatur/go-bookshop-orders.git/internal/payment"
	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	statuses map[string]orders.Status
	calls    int
}

func (f *fakeStore) UpdateOrderStatus(ctx context.Context, orderID string, to orders.Status) (orders.Status, error) {
	f.calls++
	from, ok := f.statuses[orderID]
	if !ok {
		return "", orders.ErrOrderNotFound
	}
	if !orders.CanTransition(from, to) {
		return "", &orders.InvalidTransitionError{From: from, To: to}
	}
	f.statuses[orderID] = to
	return from, nil
}

type fakePublisher struct{ values [][]byte }

func (p *fakePublisher) Publish(key, value []byte, headers ...kafkago.Header) {
	p.values = append(p.values, value)
}

func placedMessage(t *testing.T, orderID string) kafkago.Message {
	t.Helper()
	env := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     orders.EventOrderPlaced,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      "test",
		CorrelationID: orderID,
		Payload: kafkax.MustMarshal(orders.OrderPlacedPayload{
			OrderID:    orderID,
			UserID:     "u1",
			TotalPrice: decimal.RequireFromString("25.00"),
			Items:      []orders.ItemQty{{BookID: "a", Qty: 2}},
		}),
	}
	return kafkago.Message{Value: kafkax.MustMarshal(env)}
}

func newService(st *fakeStore, auth payment.Authorizer) (*Service, *fakePublisher, *fakePublisher) {
	ok, fail := &fakePublisher{}, &fakePublisher{}
	return &Service{
		Store:        st,
		Payments:     auth,
		ProducerOK:   ok,
		ProducerFail: fail,
		ServiceName:  "test-fulfillment",
	}, ok, fail
}

func TestHandleOrderPlacedConfirms(t *testing.T) {
	st := &fakeStore{statuses: map[string]orders.Status{"o1": orders.StatusPending}}
	svc, okPub, failPub := newService(st, payment.Static{})

	err := svc.HandleOrderPlaced(context.Background(), placedMessage(t, "o1"))
	require.NoError(t, err)

	assert.Equal(t, orders.StatusConfirmed, st.statuses["o1"])
	require.Len(t, okPub.values, 1)
	assert.Empty(t, failPub.values)

	var env orders.Envelope
	require.NoError(t, json.Unmarshal(okPub.values[0], &env))
	assert.Equal(t, orders.EventPaymentAuthorized, env.EventType)
	var p orders.PaymentAuthorizedPayload
	require.NoError(t, json.Unmarshal(env.Payload, &p))
	assert.Equal(t, "o1", p.OrderID)
	assert.NotEmpty(t, p.PaymentRef)
}

func TestHandleOrderPlacedDeclined(t *testing.T) {
	st := &fakeStore{statuses: map[string]orders.Status{"o1": orders.StatusPending}}
	svc, okPub, failPub := newService(st, payment.Static{Decline: true})

	err := svc.HandleOrderPlaced(context.Background(), placedMessage(t, "o1"))
	require.NoError(t, err)

	// order stays PENDING, nothing confirmed
	assert.Equal(t, orders.StatusPending, st.statuses["o1"])
	assert.Zero(t, st.calls)
	assert.Empty(t, okPub.values)
	require.Len(t, failPub.values, 1)

	var env orders.Envelope
	require.NoError(t, json.Unmarshal(failPub.values[0], &env))
	assert.Equal(t, orders.EventPaymentFailed, env.EventType)
}

func TestHandleOrderPlacedAlreadyTerminal(t *testing.T) {
	// already cancelled elsewhere: the invalid transition is swallowed
	st := &fakeStore{statuses: map[string]orders.Status{"o1": orders.StatusCancelled}}
	svc, okPub, _ := newService(st, payment.Static{})

	err := svc.HandleOrderPlaced(context.Background(), placedMessage(t, "o1"))
	require.NoError(t, err)
	assert.Equal(t, orders.StatusCancelled, st.statuses["o1"])
	assert.Empty(t, okPub.values)
}

func TestHandleIgnoresOtherEventTypes(t *testing.T) {
	st := &fakeStore{statuses: map[string]orders.Status{}}
	svc, okPub, failPub := newService(st, payment.Static{})

	env := orders.Envelope{EventID: uuid.NewString(), EventType: orders.EventOrderCancelled, Payload: json.RawMessage(`{}`)}
	err := svc.HandleOrderPlaced(context.Background(), kafkago.Message{Value: kafkax.MustMarshal(env)})
	require.NoError(t, err)
	assert.Zero(t, st.calls)
	assert.Empty(t, okPub.values)
	assert.Empty(t, failPub.values)
}
