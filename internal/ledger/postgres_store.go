package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PostgresStore persists balance rows in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed balance store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const bankCols = `id, escrow_id, role, amount, currency, bank_id, evidence_ref,
	confirmed_by_admin, confirmed_at, superseded_by, created_at`

const walletCols = `id, escrow_id, role, amount, currency, wallet_address, evidence_ref,
	confirmed_by_admin, confirmed_at, superseded_by, created_at`

func (p *PostgresStore) CreateBank(ctx context.Context, b *BankBalance) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO escrow_bank_balances (`+bankCols+`)
		VALUES ($1, $2, $3, $4::NUMERIC(32,8), $5, $6, $7, $8, $9, $10, $11)`,
		b.ID, b.EscrowID, string(b.Role), b.Amount.String(), b.Currency, b.BankID,
		nullString(b.EvidenceRef), b.ConfirmedByAdmin, nullTime(b.ConfirmedAt),
		nullString(b.SupersededBy), b.CreatedAt,
	)
	return err
}

func (p *PostgresStore) CreateWallet(ctx context.Context, w *WalletBalance) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO escrow_wallet_balances (`+walletCols+`)
		VALUES ($1, $2, $3, $4::NUMERIC(32,8), $5, $6, $7, $8, $9, $10, $11)`,
		w.ID, w.EscrowID, string(w.Role), w.Amount.String(), w.Currency, w.WalletAddress,
		nullString(w.EvidenceRef), w.ConfirmedByAdmin, nullTime(w.ConfirmedAt),
		nullString(w.SupersededBy), w.CreatedAt,
	)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Balance, error) {
	// Row IDs are prefixed by rail, so only one table can match.
	if strings.HasPrefix(id, "bnk_") {
		row := p.db.QueryRowContext(ctx,
			`SELECT `+bankCols+` FROM escrow_bank_balances WHERE id = $1`, id)
		b, err := scanBank(row)
		if err == sql.ErrNoRows {
			return nil, ErrBalanceNotFound
		}
		if err != nil {
			return nil, err
		}
		return b.asBalance(), nil
	}

	row := p.db.QueryRowContext(ctx,
		`SELECT `+walletCols+` FROM escrow_wallet_balances WHERE id = $1`, id)
	w, err := scanWallet(row)
	if err == sql.ErrNoRows {
		return nil, ErrBalanceNotFound
	}
	if err != nil {
		return nil, err
	}
	return w.asBalance(), nil
}

func (p *PostgresStore) Confirm(ctx context.Context, id string, at time.Time) error {
	table := "escrow_wallet_balances"
	if strings.HasPrefix(id, "bnk_") {
		table = "escrow_bank_balances"
	}

	result, err := p.db.ExecContext(ctx, `
		UPDATE `+table+` SET confirmed_by_admin = TRUE, confirmed_at = $1
		WHERE id = $2 AND confirmed_by_admin = FALSE AND superseded_by IS NULL`,
		at, id,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		// Distinguish missing from already-confirmed/superseded.
		b, getErr := p.Get(ctx, id)
		if getErr != nil {
			return getErr
		}
		if b.SupersededBy != "" {
			return ErrSuperseded
		}
		return ErrAlreadyConfirmed
	}
	return nil
}

func (p *PostgresStore) SupersedeBank(ctx context.Context, oldID string, replacement *BankBalance) error {
	return p.inTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE escrow_bank_balances SET superseded_by = $1
			WHERE id = $2 AND superseded_by IS NULL`, replacement.ID, oldID)
		if err != nil {
			return err
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return ErrSuperseded
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO escrow_bank_balances (`+bankCols+`)
			VALUES ($1, $2, $3, $4::NUMERIC(32,8), $5, $6, $7, $8, $9, $10, $11)`,
			replacement.ID, replacement.EscrowID, string(replacement.Role),
			replacement.Amount.String(), replacement.Currency, replacement.BankID,
			nullString(replacement.EvidenceRef), replacement.ConfirmedByAdmin,
			nullTime(replacement.ConfirmedAt), nullString(replacement.SupersededBy),
			replacement.CreatedAt,
		)
		return err
	})
}

func (p *PostgresStore) SupersedeWallet(ctx context.Context, oldID string, replacement *WalletBalance) error {
	return p.inTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE escrow_wallet_balances SET superseded_by = $1
			WHERE id = $2 AND superseded_by IS NULL`, replacement.ID, oldID)
		if err != nil {
			return err
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return ErrSuperseded
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO escrow_wallet_balances (`+walletCols+`)
			VALUES ($1, $2, $3, $4::NUMERIC(32,8), $5, $6, $7, $8, $9, $10, $11)`,
			replacement.ID, replacement.EscrowID, string(replacement.Role),
			replacement.Amount.String(), replacement.Currency, replacement.WalletAddress,
			nullString(replacement.EvidenceRef), replacement.ConfirmedByAdmin,
			nullTime(replacement.ConfirmedAt), nullString(replacement.SupersededBy),
			replacement.CreatedAt,
		)
		return err
	})
}

func (p *PostgresStore) ListByEscrow(ctx context.Context, escrowID string) ([]*Balance, error) {
	var result []*Balance

	rows, err := p.db.QueryContext(ctx,
		`SELECT `+bankCols+` FROM escrow_bank_balances WHERE escrow_id = $1 ORDER BY created_at`, escrowID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		b, err := scanBank(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, b.asBalance())
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	wrows, err := p.db.QueryContext(ctx,
		`SELECT `+walletCols+` FROM escrow_wallet_balances WHERE escrow_id = $1 ORDER BY created_at`, escrowID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = wrows.Close() }()
	for wrows.Next() {
		w, err := scanWallet(wrows)
		if err != nil {
			return nil, err
		}
		result = append(result, w.asBalance())
	}
	return result, wrows.Err()
}

func (p *PostgresStore) ConfirmedTotal(ctx context.Context, escrowID string, role Role, rail Rail, currency string) (decimal.Decimal, error) {
	table := "escrow_wallet_balances"
	if rail == RailBank {
		table = "escrow_bank_balances"
	}

	var total string
	err := p.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM `+table+`
		WHERE escrow_id = $1 AND role = $2 AND currency = $3
		  AND confirmed_by_admin = TRUE AND superseded_by IS NULL`,
		escrowID, string(role), currency,
	).Scan(&total)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(total)
}

func (p *PostgresStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// --- scan helpers ---

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanBank(s rowScanner) (*BankBalance, error) {
	b := &BankBalance{}
	var (
		amount       string
		role         string
		evidenceRef  sql.NullString
		confirmedAt  sql.NullTime
		supersededBy sql.NullString
	)
	err := s.Scan(
		&b.ID, &b.EscrowID, &role, &amount, &b.Currency, &b.BankID, &evidenceRef,
		&b.ConfirmedByAdmin, &confirmedAt, &supersededBy, &b.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	b.Role = Role(role)
	b.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("bad amount in row %s: %w", b.ID, err)
	}
	b.EvidenceRef = evidenceRef.String
	if confirmedAt.Valid {
		b.ConfirmedAt = &confirmedAt.Time
	}
	b.SupersededBy = supersededBy.String
	return b, nil
}

func scanWallet(s rowScanner) (*WalletBalance, error) {
	w := &WalletBalance{}
	var (
		amount       string
		role         string
		evidenceRef  sql.NullString
		confirmedAt  sql.NullTime
		supersededBy sql.NullString
	)
	err := s.Scan(
		&w.ID, &w.EscrowID, &role, &amount, &w.Currency, &w.WalletAddress, &evidenceRef,
		&w.ConfirmedByAdmin, &confirmedAt, &supersededBy, &w.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	w.Role = Role(role)
	w.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("bad amount in row %s: %w", w.ID, err)
	}
	w.EvidenceRef = evidenceRef.String
	if confirmedAt.Valid {
		w.ConfirmedAt = &confirmedAt.Time
	}
	w.SupersededBy = supersededBy.String
	return w, nil
}

// --- nullable helpers ---

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// Compile-time assertion that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
