package flashsale

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SaleRepo persists the sale catalog so the engine can reload it at boot.
type SaleRepo struct{ DB *pgxpool.Pool }

func (r *SaleRepo) UpsertSale(ctx context.Context, it SaleItem) error {
	_, err := r.DB.Exec(ctx, `
		INSERT INTO sale_items(id, name, total_units, price_cents, starts_at, ends_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (id) DO NOTHING
	`, it.ID, it.Name, it.TotalUnits, it.PriceCents, it.StartsAt, it.EndsAt)
	return err
}

func (r *SaleRepo) ListSales(ctx context.Context) ([]SaleItem, error) {
	rows, err := r.DB.Query(ctx, `SELECT id, name, total_units, price_cents, starts_at, ends_at, created_at, updated_at
	                              FROM sale_items ORDER BY starts_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SaleItem
	for rows.Next() {
		var it SaleItem
		if err := rows.Scan(&it.ID, &it.Name, &it.TotalUnits, &it.PriceCents, &it.StartsAt, &it.EndsAt, &it.CreatedAt, &it.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// ArchiveRepo stores terminal purchase attempts. The in-memory attempt store
// is authoritative while a saga runs; the archive is the durable record that
// survives restarts and serves status polls for finished attempts.
type ArchiveRepo struct{ DB *pgxpool.Pool }

func (r *ArchiveRepo) ArchiveAttempt(ctx context.Context, a PurchaseAttempt) error {
	_, err := r.DB.Exec(ctx, `
		INSERT INTO purchase_attempts(id, user_id, sale_item_id, step, fail_reason, payment_id, order_id, created_at, finished_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (id) DO NOTHING
	`, a.ID, a.UserID, a.SaleItemID, string(a.Step), a.FailReason, a.PaymentID, a.OrderID, a.CreatedAt, a.UpdatedAt)
	return err
}

func (r *ArchiveRepo) GetAttempt(ctx context.Context, id string) (PurchaseAttempt, error) {
	var a PurchaseAttempt
	var step string
	err := r.DB.QueryRow(ctx, `SELECT id, user_id, sale_item_id, step, fail_reason, payment_id, order_id, created_at, finished_at
	                           FROM purchase_attempts WHERE id=$1`, id).
		Scan(&a.ID, &a.UserID, &a.SaleItemID, &step, &a.FailReason, &a.PaymentID, &a.OrderID, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return PurchaseAttempt{}, ErrAttemptNotFound
	}
	if err != nil {
		return PurchaseAttempt{}, err
	}
	a.Step = Step(step)
	return a, nil
}
