// Package payment is the boundary to the external payment gateway. The
// rest of the system only sees Authorizer; gateway protocol details stay
// behind it.
package payment

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var ErrDeclined = errors.New("payment declined")

type Authorizer interface {
	Authorize(ctx context.Context, orderID, userID string, amount decimal.Decimal) (ref string, err error)
}

// Static authorizes or declines everything depending on mode. Stands in for
// the real gateway in local and test environments.
type Static struct {
	Decline bool
}

func (s Static) Authorize(ctx context.Context, orderID, userID string, amount decimal.Decimal) (string, error) {
	if s.Decline {
		return "", ErrDeclined
	}
	return "auth-" + uuid.NewString(), nil
}

func FromMode(mode string) Authorizer {
	return Static{Decline: mode == "decline"}
}
