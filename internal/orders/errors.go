package orders

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyCart     = errors.New("Cart is empty. Add items before checkout.")
	ErrBookNotFound  = errors.New("book not found")
	ErrOrderNotFound = errors.New("order not found")
	ErrUserNotFound  = errors.New("user not found")
	ErrUserInactive  = errors.New("user account is not active")
)

// InsufficientStockError reports the first cart line whose quantity exceeds
// the book's current stock. Its message is the wire format returned to
// clients, so keep it stable.
type InsufficientStockError struct {
	BookID    string
	Title     string
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("Insufficient stock for '%s'. Available: %d, Requested: %d", e.Title, e.Available, e.Requested)
}

type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("Invalid status transition from %s to %s.", e.From, e.To)
}

type CannotCancelError struct {
	Status Status
}

func (e *CannotCancelError) Error() string {
	return fmt.Sprintf("Cannot cancel order with status '%s'. Only pending orders can be cancelled.", e.Status)
}
