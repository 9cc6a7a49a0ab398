package orders

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
)

// Stock ledger. Book stock is the only cross-request shared mutable state,
// so every decrement and increment goes through these helpers inside the
// caller's transaction. lockStock takes the row lock (FOR UPDATE) that
// serializes concurrent checkouts against the same book.

func lockStock(ctx context.Context, tx pgx.Tx, bookID string) (int, error) {
	var stock int
	err := tx.QueryRow(ctx, `SELECT stock FROM books WHERE id=$1 FOR UPDATE`, bookID).Scan(&stock)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrBookNotFound
	}
	return stock, err
}

// reserveStock decrements under an already-held row lock. The WHERE guard
// keeps the non-negativity invariant even if a caller skipped the check.
func reserveStock(ctx context.Context, tx pgx.Tx, bookID, title string, qty int) error {
	ct, err := tx.Exec(ctx, `UPDATE books SET stock = stock - $2 WHERE id=$1 AND stock >= $2`, bookID, qty)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		stock, lockErr := lockStock(ctx, tx, bookID)
		if lockErr != nil {
			return lockErr
		}
		return &InsufficientStockError{BookID: bookID, Title: title, Available: stock, Requested: qty}
	}
	return nil
}

// releaseStock increments without an upper bound; restored stock is not
// capped against any original ceiling.
func releaseStock(ctx context.Context, tx pgx.Tx, bookID string, qty int) error {
	ct, err := tx.Exec(ctx, `UPDATE books SET stock = stock + $2 WHERE id=$1`, bookID, qty)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return ErrBookNotFound
	}
	return nil
}
