package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	paymentColumns = `id, order_id, user_id, amount, method, status, txn_ref, attempt,
		gateway_transaction_no, bank_code, response_code, reconciliation_required,
		reconciled_at, expires_at, paid_at, created_at, updated_at`

	pendingPerOrderConstraint = "payments_one_pending_per_order_uidx"
)

type paymentRepository struct {
	s *Store
}

// NewPaymentRepository создаёт PostgreSQL-реализацию PaymentRepository.
func NewPaymentRepository(store *Store) domain.PaymentRepository {
	return &paymentRepository{s: store}
}

// Create сохраняет попытку; частичный уникальный индекс не даёт открыть вторую Pending попытку.
func (r *paymentRepository) Create(ctx context.Context, p domain.Payment) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := r.s.conn(ctx).ExecContext(ctx, `
		INSERT INTO payments (`+paymentColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
	`,
		p.ID, p.OrderID, p.UserID, p.Amount, string(p.Method), string(p.Status), p.TxnRef, p.Attempt,
		p.GatewayTransactionNo, p.BankCode, p.ResponseCode, p.ReconciliationRequired,
		nullTime(p.ReconciledAt), nullTime(p.ExpiresAt), nullTime(p.PaidAt), p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) && violatedConstraint(err) == pendingPerOrderConstraint {
			return domain.ErrPaymentInProgress
		}
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func (r *paymentRepository) GetByTxnRef(ctx context.Context, txnRef string) (domain.Payment, error) {
	return r.getByTxnRef(ctx, txnRef, "")
}

// GetByTxnRefForUpdate блокирует строку попытки; параллельные callback-и по одной ссылке выстраиваются в очередь.
func (r *paymentRepository) GetByTxnRefForUpdate(ctx context.Context, txnRef string) (domain.Payment, error) {
	if !inTx(ctx) {
		return domain.Payment{}, errors.New("payment: GetByTxnRefForUpdate requires a transaction")
	}
	return r.getByTxnRef(ctx, txnRef, " FOR UPDATE")
}

func (r *paymentRepository) getByTxnRef(ctx context.Context, txnRef, lock string) (domain.Payment, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	p, err := scanPayment(r.s.conn(ctx).QueryRowContext(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE txn_ref = $1`+lock, txnRef))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Payment{}, fmt.Errorf("%w: txn_ref %s", domain.ErrPaymentNotFound, txnRef)
		}
		return domain.Payment{}, fmt.Errorf("select payment: %w", err)
	}
	return p, nil
}

func (r *paymentRepository) LatestByOrder(ctx context.Context, orderID string) (domain.Payment, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	p, err := scanPayment(r.s.conn(ctx).QueryRowContext(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE order_id = $1
		ORDER BY attempt DESC
		LIMIT 1
	`, orderID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Payment{}, fmt.Errorf("%w: order %s", domain.ErrPaymentNotFound, orderID)
		}
		return domain.Payment{}, fmt.Errorf("select latest payment: %w", err)
	}
	return p, nil
}

// Transition — compare-and-swap по статусу: UPDATE срабатывает, только если статус всё ещё равен from.
func (r *paymentRepository) Transition(ctx context.Context, id string, from domain.PaymentStatus, outcome domain.PaymentOutcome) (domain.Payment, error) {
	if !from.CanTransitionTo(outcome.Status) {
		return domain.Payment{}, &domain.TransitionError{Entity: "payment", From: string(from), To: string(outcome.Status)}
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	db := r.s.conn(ctx)

	p, err := scanPayment(db.QueryRowContext(ctx, `
		UPDATE payments
		SET status = $3,
		    response_code = $4,
		    gateway_transaction_no = $5,
		    bank_code = $6,
		    paid_at = $7,
		    reconciliation_required = $8,
		    updated_at = $9
		WHERE id = $1
		  AND status = $2
		RETURNING `+paymentColumns,
		id, string(from), string(outcome.Status), outcome.ResponseCode, outcome.GatewayTransactionNo,
		outcome.BankCode, nullTime(outcome.PaidAt), outcome.ReconciliationRequired, time.Now().UTC(),
	))
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.Payment{}, fmt.Errorf("transition payment: %w", err)
	}

	var current string
	err = db.QueryRowContext(ctx, `SELECT status FROM payments WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Payment{}, fmt.Errorf("%w: %s", domain.ErrPaymentNotFound, id)
	}
	if err != nil {
		return domain.Payment{}, fmt.Errorf("check payment status: %w", err)
	}
	return domain.Payment{}, &domain.TransitionError{Entity: "payment", From: current, To: string(outcome.Status)}
}

// FlagReconciliation ставит флаг сверки без compare-and-swap по статусу: Failed попытка остаётся Failed.
func (r *paymentRepository) FlagReconciliation(ctx context.Context, id, gatewayTransactionNo, bankCode string) (domain.Payment, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	p, err := scanPayment(r.s.conn(ctx).QueryRowContext(ctx, `
		UPDATE payments
		SET reconciliation_required = TRUE,
		    reconciled_at = NULL,
		    gateway_transaction_no = COALESCE(NULLIF($2, ''), gateway_transaction_no),
		    bank_code = COALESCE(NULLIF($3, ''), bank_code),
		    updated_at = $4
		WHERE id = $1
		RETURNING `+paymentColumns,
		id, gatewayTransactionNo, bankCode, time.Now().UTC(),
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Payment{}, fmt.Errorf("%w: %s", domain.ErrPaymentNotFound, id)
		}
		return domain.Payment{}, fmt.Errorf("flag payment reconciliation: %w", err)
	}
	return p, nil
}

func (r *paymentRepository) ResolveReconciliation(ctx context.Context, id string, at time.Time) (domain.Payment, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	db := r.s.conn(ctx)

	p, err := scanPayment(db.QueryRowContext(ctx, `
		UPDATE payments
		SET reconciliation_required = FALSE,
		    reconciled_at = $2,
		    updated_at = $2
		WHERE id = $1
		  AND reconciliation_required
		RETURNING `+paymentColumns,
		id, at,
	))
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.Payment{}, fmt.Errorf("resolve payment reconciliation: %w", err)
	}

	var exists bool
	if err := db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM payments WHERE id = $1)`, id).Scan(&exists); err != nil {
		return domain.Payment{}, fmt.Errorf("check payment: %w", err)
	}
	if !exists {
		return domain.Payment{}, fmt.Errorf("%w: %s", domain.ErrPaymentNotFound, id)
	}
	return domain.Payment{}, domain.ErrNothingToReconcile
}

func (r *paymentRepository) ListStale(ctx context.Context, before time.Time, limit int) ([]domain.Payment, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}

	rows, err := r.s.conn(ctx).QueryContext(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE status = 'pending'
		  AND expires_at < $1
		ORDER BY expires_at ASC
		LIMIT $2
	`, before, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale payments: %w", err)
	}
	defer rows.Close()

	result := make([]domain.Payment, 0)
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stale payment: %w", err)
		}
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stale payments: %w", err)
	}
	return result, nil
}

func (r *paymentRepository) CountReconciliationRequired(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var count int
	if err := r.s.conn(ctx).QueryRowContext(ctx, `
		SELECT COUNT(*) FROM payments WHERE reconciliation_required
	`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count reconciliation payments: %w", err)
	}
	return count, nil
}

func scanPayment(row rowScanner) (domain.Payment, error) {
	var (
		p                         domain.Payment
		method, status            string
		reconciled, expires, paid sql.NullTime
	)
	if err := row.Scan(
		&p.ID, &p.OrderID, &p.UserID, &p.Amount, &method, &status, &p.TxnRef, &p.Attempt,
		&p.GatewayTransactionNo, &p.BankCode, &p.ResponseCode, &p.ReconciliationRequired,
		&reconciled, &expires, &paid, &p.CreatedAt, &p.UpdatedAt,
	); err != nil {
		return domain.Payment{}, err
	}
	p.Method = domain.PaymentMethod(method)
	p.Status = domain.PaymentStatus(status)
	p.ReconciledAt = timeOrZero(reconciled)
	p.ExpiresAt = timeOrZero(expires)
	p.PaidAt = timeOrZero(paid)
	return p, nil
}

var _ domain.PaymentRepository = (*paymentRepository)(nil)
