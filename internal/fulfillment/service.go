// Package fulfillment consumes OrderPlaced events, runs the payment
// authorization and drives PENDING orders to CONFIRMED.
package fulfillment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	kafkax "github.com/ariefcatur/go-bookshop-orders.git/internal/kafka"
	"github.com/ariefcatur/go-bookshop-orders.git/internal/orders"
	"github.com/ariefcatur/go-bookshop-orders.git/internal/payment"
	"github.com/ariefcatur/go-bookshop-orders.git/internal/redisx"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
)

type StatusStore interface {
	UpdateOrderStatus(ctx context.Context, orderID string, to orders.Status) (orders.Status, error)
}

// Publisher is what this service needs from kafkax.Producer.
type Publisher interface {
	Publish(key, value []byte, headers ...kafkago.Header)
}

type Service struct {
	Store        StatusStore
	Redis        *redis.Client
	Payments     payment.Authorizer
	ProducerOK   Publisher // order.payment.authorized
	ProducerFail Publisher // order.payment.failed
	ServiceName  string
}

// HandleOrderPlaced is wired as the consumer handler for order.placed.
func (s *Service) HandleOrderPlaced(ctx context.Context, m kafkago.Message) error {
	var env orders.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		return err
	}
	if env.EventType != orders.EventOrderPlaced {
		return nil
	}

	// dedup by event_id so redeliveries do not re-charge
	if s.Redis != nil {
		dkey := fmt.Sprintf(redisx.KeyDedup, "fulfillment", env.EventID)
		exists, _ := redisx.Exists(ctx, s.Redis, dkey)
		if exists {
			return nil
		}
		_ = s.Redis.Set(ctx, dkey, "1", redisx.TTLDedup).Err()
	}

	p, err := kafkax.UnwrapPayload[orders.OrderPlacedPayload](env.Payload)
	if err != nil {
		return err
	}

	ref, err := s.Payments.Authorize(ctx, p.OrderID, p.UserID, p.TotalPrice)
	if err != nil {
		if errors.Is(err, payment.ErrDeclined) {
			// the order stays PENDING; a later cancel restores stock
			s.publishFailed(p.OrderID, "DECLINED", env.TraceID)
			return nil
		}
		return err
	}

	_, err = s.Store.UpdateOrderStatus(ctx, p.OrderID, orders.StatusConfirmed)
	if err != nil {
		var ite *orders.InvalidTransitionError
		if errors.As(err, &ite) {
			// already confirmed or cancelled elsewhere; nothing to do
			return nil
		}
		return err
	}

	s.publishAuthorized(p.OrderID, ref, p, env.TraceID)
	return nil
}

func (s *Service) publishAuthorized(orderID, ref string, p orders.OrderPlacedPayload, trace string) {
	ev := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     orders.EventPaymentAuthorized,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      s.ServiceName,
		TraceID:       trace,
		CorrelationID: orderID,
		Payload: kafkax.MustMarshal(orders.PaymentAuthorizedPayload{
			OrderID: orderID, PaymentRef: ref, Amount: p.TotalPrice,
		}),
	}
	s.ProducerOK.Publish(orders.PartitionKey(orderID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(orders.EventPaymentAuthorized)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}

func (s *Service) publishFailed(orderID, reason, trace string) {
	ev := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     orders.EventPaymentFailed,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      s.ServiceName,
		TraceID:       trace,
		CorrelationID: orderID,
		Payload: kafkax.MustMarshal(orders.PaymentFailedPayload{
			OrderID: orderID, Reason: reason,
		}),
	}
	s.ProducerFail.Publish(orders.PartitionKey(orderID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(orders.EventPaymentFailed)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}
