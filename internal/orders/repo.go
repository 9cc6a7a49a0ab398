package orders

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repo struct{ DB *pgxpool.Pool }

// snapshotCart resolves the user's cart lines against current book price and
// stock. FOR UPDATE OF b locks the stock rows for the rest of the
// transaction so verify + reserve see the same numbers.
func snapshotCart(ctx context.Context, tx pgx.Tx, userID string) ([]CartLine, error) {
	rows, err := tx.Query(ctx, `
		SELECT ci.book_id, b.title, ci.qty, b.price, b.stock
		FROM cart_items ci
		JOIN books b ON b.id = ci.book_id
		WHERE ci.user_id = $1
		ORDER BY ci.added_at
		FOR UPDATE OF b`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []CartLine
	for rows.Next() {
		var l CartLine
		if err := rows.Scan(&l.BookID, &l.Title, &l.Quantity, &l.UnitPrice, &l.Stock); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// Checkout turns the user's cart into a PENDING order: snapshot -> stock
// check -> order + lines -> stock decrement -> cart clear, all in one
// transaction. A failure at any step leaves no partial order, no partial
// decrement and the cart untouched. Idempotent via external_id: a replay
// returns the already-created order (existed=true) without touching stock.
func (r *Repo) Checkout(ctx context.Context, userID, externalID string) (Order, bool, error) {
	if externalID != "" {
		var o Order
		err := r.DB.QueryRow(ctx, `
			SELECT o.id, o.user_id, o.order_date, o.total_price, o.status, o.created_at,
			       COALESCE((SELECT SUM(oi.qty) FROM order_items oi WHERE oi.order_id = o.id), 0)::int
			FROM orders o WHERE o.external_id = $1`, externalID).
			Scan(&o.ID, &o.UserID, &o.OrderDate, &o.TotalPrice, &o.Status, &o.CreatedAt, &o.ItemCount)
		if err == nil {
			o.ExternalID = externalID
			return o, true, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return Order{}, false, err
		}
	}

	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Order{}, false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var active bool
	err = tx.QueryRow(ctx, `SELECT active FROM users WHERE id=$1`, userID).Scan(&active)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, false, ErrUserNotFound
	}
	if err != nil {
		return Order{}, false, err
	}
	if !active {
		return Order{}, false, ErrUserInactive
	}

	lines, err := snapshotCart(ctx, tx, userID)
	if err != nil {
		return Order{}, false, err
	}
	if len(lines) == 0 {
		return Order{}, false, ErrEmptyCart
	}
	if err := CheckStock(lines); err != nil {
		return Order{}, false, err
	}

	o := NewOrder(userID, lines)
	o.ExternalID = externalID
	_, err = tx.Exec(ctx, `
		INSERT INTO orders(id, user_id, external_id, order_date, total_price, status, created_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7)`,
		o.ID, o.UserID, o.ExternalID, o.OrderDate, o.TotalPrice, o.Status, o.CreatedAt)
	if err != nil {
		return Order{}, false, err
	}
	for _, it := range o.Items {
		if _, err := tx.Exec(ctx, `
			INSERT INTO order_items(id, order_id, book_id, qty, unit_price)
			VALUES ($1, $2, $3, $4, $5)`,
			it.ID, it.OrderID, it.BookID, it.Quantity, it.UnitPrice); err != nil {
			return Order{}, false, err
		}
	}

	// Rows are still locked from the snapshot, so reserve cannot fail on
	// stock here, but the guard stays in reserveStock regardless.
	for _, l := range lines {
		if err := reserveStock(ctx, tx, l.BookID, l.Title, l.Quantity); err != nil {
			return Order{}, false, err
		}
	}

	bookIDs := make([]string, 0, len(lines))
	for _, l := range lines {
		bookIDs = append(bookIDs, l.BookID)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM cart_items WHERE user_id=$1 AND book_id = ANY($2)`, userID, bookIDs); err != nil {
		return Order{}, false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Order{}, false, err
	}
	return o, false, nil
}

func (r *Repo) GetOrder(ctx context.Context, orderID string) (Order, error) {
	var o Order
	err := r.DB.QueryRow(ctx, `
		SELECT id, user_id, order_date, total_price, status, created_at
		FROM orders WHERE id=$1`, orderID).
		Scan(&o.ID, &o.UserID, &o.OrderDate, &o.TotalPrice, &o.Status, &o.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrOrderNotFound
	}
	if err != nil {
		return Order{}, err
	}

	rows, err := r.DB.Query(ctx, `
		SELECT oi.id, oi.order_id, oi.book_id, b.title, oi.qty, oi.unit_price
		FROM order_items oi
		JOIN books b ON b.id = oi.book_id
		WHERE oi.order_id = $1`, orderID)
	if err != nil {
		return Order{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var it OrderLine
		if err := rows.Scan(&it.ID, &it.OrderID, &it.BookID, &it.Title, &it.Quantity, &it.UnitPrice); err != nil {
			return Order{}, err
		}
		o.Items = append(o.Items, it)
		o.ItemCount += it.Quantity
	}
	return o, rows.Err()
}

func (r *Repo) ListOrders(ctx context.Context, f ListFilter) ([]Order, error) {
	q := `
		SELECT o.id, o.user_id, o.order_date, o.total_price, o.status, o.created_at,
		       COALESCE((SELECT SUM(oi.qty) FROM order_items oi WHERE oi.order_id = o.id), 0)::int
		FROM orders o
		WHERE ($1 = '' OR o.user_id = $1)
		  AND ($2 = '' OR o.status = $2)
		ORDER BY o.order_date DESC`
	rows, err := r.DB.Query(ctx, q, f.UserID, string(f.Status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		var o Order
		if err := rows.Scan(&o.ID, &o.UserID, &o.OrderDate, &o.TotalPrice, &o.Status, &o.CreatedAt, &o.ItemCount); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// UpdateOrderStatus applies the canonical transition table. Transitions into
// CANCELLED restore stock here too, so the generic path and the customer
// cancel path cannot diverge on the stock invariant. Returns the previous
// status for event publication.
func (r *Repo) UpdateOrderStatus(ctx context.Context, orderID string, to Status) (Status, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	from, err := lockOrderStatus(ctx, tx, orderID)
	if err != nil {
		return "", err
	}
	if !CanTransition(from, to) {
		return "", &InvalidTransitionError{From: from, To: to}
	}
	if to == StatusCancelled {
		if _, err := restoreOrderStock(ctx, tx, orderID); err != nil {
			return "", err
		}
	}
	if _, err := tx.Exec(ctx, `UPDATE orders SET status=$2 WHERE id=$1`, orderID, to); err != nil {
		return "", err
	}
	return from, tx.Commit(ctx)
}

// CancelOrder is the customer-facing cancellation: PENDING orders only.
// The status guard doubles as the idempotency guard against double stock
// restoration. Returns the released quantities for the event payload.
func (r *Repo) CancelOrder(ctx context.Context, orderID string) ([]ItemQty, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	status, err := lockOrderStatus(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	if status != StatusPending {
		return nil, &CannotCancelError{Status: status}
	}

	released, err := restoreOrderStock(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx, `UPDATE orders SET status=$2 WHERE id=$1`, orderID, StatusCancelled); err != nil {
		return nil, err
	}
	return released, tx.Commit(ctx)
}

func lockOrderStatus(ctx context.Context, tx pgx.Tx, orderID string) (Status, error) {
	var s string
	err := tx.QueryRow(ctx, `SELECT status FROM orders WHERE id=$1 FOR UPDATE`, orderID).Scan(&s)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrOrderNotFound
	}
	return Status(s), err
}

func restoreOrderStock(ctx context.Context, tx pgx.Tx, orderID string) ([]ItemQty, error) {
	rows, err := tx.Query(ctx, `SELECT book_id, qty FROM order_items WHERE order_id=$1`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []ItemQty
	for rows.Next() {
		var it ItemQty
		if err := rows.Scan(&it.BookID, &it.Qty); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, it := range items {
		if err := releaseStock(ctx, tx, it.BookID, it.Qty); err != nil {
			return nil, err
		}
	}
	return items, nil
}

func (r *Repo) GetOrderStatus(ctx context.Context, orderID string) (Status, error) {
	var s string
	err := r.DB.QueryRow(ctx, `SELECT status FROM orders WHERE id=$1`, orderID).Scan(&s)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrOrderNotFound
	}
	return Status(s), err
}

func (r *Repo) ListBooks(ctx context.Context) ([]Book, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, title, isbn13, price, stock, active, created_at
		FROM books WHERE active ORDER BY title`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Book
	for rows.Next() {
		var b Book
		if err := rows.Scan(&b.ID, &b.Title, &b.ISBN13, &b.Price, &b.Stock, &b.Active, &b.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// AddCartItem upserts a cart line; adding the same book again accumulates
// the quantity.
func (r *Repo) AddCartItem(ctx context.Context, userID, bookID string, qty int) error {
	var exists bool
	err := r.DB.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM books WHERE id=$1 AND active)`, bookID).Scan(&exists)
	if err != nil {
		return err
	}
	if !exists {
		return ErrBookNotFound
	}
	_, err = r.DB.Exec(ctx, `
		INSERT INTO cart_items(user_id, book_id, qty, added_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (user_id, book_id) DO UPDATE SET qty = cart_items.qty + EXCLUDED.qty`,
		userID, bookID, qty)
	return err
}

func (r *Repo) GetCart(ctx context.Context, userID string) ([]CartLine, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT ci.book_id, b.title, ci.qty, b.price, b.stock
		FROM cart_items ci
		JOIN books b ON b.id = ci.book_id
		WHERE ci.user_id = $1
		ORDER BY ci.added_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []CartLine
	for rows.Next() {
		var l CartLine
		if err := rows.Scan(&l.BookID, &l.Title, &l.Quantity, &l.UnitPrice, &l.Stock); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}
