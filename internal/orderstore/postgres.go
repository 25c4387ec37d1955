package orderstore

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PG writes orders to Postgres. attempt_id carries a unique constraint so a
// retried CreateOrder lands on the existing row.
type PG struct{ DB *pgxpool.Pool }

func (p *PG) CreateOrder(ctx context.Context, attemptID, userID, itemID string, priceCents int, paymentID string) (string, error) {
	var orderID string
	err := p.DB.QueryRow(ctx, `SELECT id FROM orders WHERE attempt_id=$1`, attemptID).Scan(&orderID)
	if err == nil {
		return orderID, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", err
	}

	orderID = uuid.NewString()
	_, err = p.DB.Exec(ctx, `
		INSERT INTO orders(id, attempt_id, user_id, sale_item_id, price_cents, payment_id)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (attempt_id) DO NOTHING
	`, orderID, attemptID, userID, itemID, priceCents, paymentID)
	if err != nil {
		return "", err
	}

	// A concurrent retry may have won the insert; read back the winner.
	if err := p.DB.QueryRow(ctx, `SELECT id FROM orders WHERE attempt_id=$1`, attemptID).Scan(&orderID); err != nil {
		return "", err
	}
	return orderID, nil
}
