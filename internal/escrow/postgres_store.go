package escrow

import (
	"context"
	"database/sql"
	"time"

	"github.com/mbd888/escrowd/internal/ledger"
	"github.com/mbd888/escrowd/internal/money"
)

// PostgresStore persists escrow aggregates in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed escrow store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const escrowColumns = `id, buyer_id, seller_id, is_buyer_initiated,
	       trade_type, buy_currency, sell_currency,
	       buyer_deposit_amount, seller_deposit_amount, fee_payer,
	       buyer_deposit_wallet_id, seller_deposit_wallet_id,
	       buyer_deposit_bank_id, seller_bank_id,
	       state, counterparty_confirmation_deadline,
	       buyer_confirmed_funding, seller_confirmed_funding,
	       buyer_marked_payment_sent, seller_marked_payment_sent,
	       disputed_by, dispute_reason, resolution, resolved_at,
	       version, created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, e *Escrow) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO escrows (
			id, buyer_id, seller_id, is_buyer_initiated,
			trade_type, buy_currency, sell_currency,
			buyer_deposit_amount, seller_deposit_amount, fee_payer,
			buyer_deposit_wallet_id, seller_deposit_wallet_id,
			buyer_deposit_bank_id, seller_bank_id,
			state, counterparty_confirmation_deadline,
			buyer_confirmed_funding, seller_confirmed_funding,
			buyer_marked_payment_sent, seller_marked_payment_sent,
			disputed_by, dispute_reason, resolution, resolved_at,
			version, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7,
			$8::NUMERIC(32,8), $9::NUMERIC(32,8), $10,
			$11, $12,
			$13, $14,
			$15, $16,
			$17, $18,
			$19, $20,
			$21, $22, $23, $24,
			$25, $26, $27
		)`,
		e.ID, e.BuyerID, e.SellerID, e.IsBuyerInitiated,
		string(e.TradeType), e.BuyCurrency, e.SellCurrency,
		money.Format(e.BuyerDepositAmount), money.Format(e.SellerDepositAmount), string(e.FeePayer),
		nullString(e.BuyerDepositWalletID), nullString(e.SellerDepositWalletID),
		nullString(e.BuyerDepositBankID), nullString(e.SellerBankID),
		string(e.State), nullTime(e.CounterPartyConfirmationDeadline),
		e.BuyerConfirmedFunding, e.SellerConfirmedFunding,
		e.BuyerMarkedPaymentSent, e.SellerMarkedPaymentSent,
		nullString(e.DisputedBy), nullString(e.DisputeReason), nullString(e.Resolution), nullTime(e.ResolvedAt),
		e.Version, e.CreatedAt, e.UpdatedAt,
	)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Escrow, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+escrowColumns+` FROM escrows WHERE id = $1`, id)

	e, err := scanEscrow(row)
	if err == sql.ErrNoRows {
		return nil, reject(KindNotFound, "escrowId", "escrow %s not found", id)
	}
	return e, err
}

// Update persists the snapshot only if the stored version still matches,
// then bumps it. A zero-row update means another writer won; the caller
// re-reads and retries.
func (p *PostgresStore) Update(ctx context.Context, e *Escrow) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE escrows SET
			state = $1, counterparty_confirmation_deadline = $2,
			buyer_confirmed_funding = $3, seller_confirmed_funding = $4,
			buyer_marked_payment_sent = $5, seller_marked_payment_sent = $6,
			disputed_by = $7, dispute_reason = $8, resolution = $9, resolved_at = $10,
			version = version + 1, updated_at = $11
		WHERE id = $12 AND version = $13`,
		string(e.State), nullTime(e.CounterPartyConfirmationDeadline),
		e.BuyerConfirmedFunding, e.SellerConfirmedFunding,
		e.BuyerMarkedPaymentSent, e.SellerMarkedPaymentSent,
		nullString(e.DisputedBy), nullString(e.DisputeReason), nullString(e.Resolution), nullTime(e.ResolvedAt),
		e.UpdatedAt, e.ID, e.Version,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		// Missing row and lost race look the same here; disambiguate.
		var stored int64
		err := p.db.QueryRowContext(ctx, `SELECT version FROM escrows WHERE id = $1`, e.ID).Scan(&stored)
		if err == sql.ErrNoRows {
			return reject(KindNotFound, "escrowId", "escrow %s not found", e.ID)
		}
		if err != nil {
			return err
		}
		return reject(KindStaleWrite, "version",
			"escrow %s is at version %d, snapshot is %d", e.ID, stored, e.Version)
	}
	e.Version++
	return nil
}

func (p *PostgresStore) ListByUser(ctx context.Context, userID string, limit int) ([]*Escrow, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+escrowColumns+`
		FROM escrows
		WHERE buyer_id = $1 OR seller_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanEscrows(rows)
}

func (p *PostgresStore) ListFundingExpired(ctx context.Context, before time.Time, limit int) ([]*Escrow, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+escrowColumns+`
		FROM escrows
		WHERE state = 'one_party_funded'
		  AND counterparty_confirmation_deadline IS NOT NULL
		  AND counterparty_confirmation_deadline < $1
		LIMIT $2`, before, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanEscrows(rows)
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEscrow(s scanner) (*Escrow, error) {
	e := &Escrow{}
	var (
		tradeType       string
		feePayer        string
		state           string
		buyAmount       string
		sellAmount      string
		buyerWallet     sql.NullString
		sellerWallet    sql.NullString
		buyerBank       sql.NullString
		sellerBank      sql.NullString
		deadline        sql.NullTime
		disputedBy      sql.NullString
		disputeReason   sql.NullString
		resolution      sql.NullString
		resolvedAt      sql.NullTime
	)

	err := s.Scan(
		&e.ID, &e.BuyerID, &e.SellerID, &e.IsBuyerInitiated,
		&tradeType, &e.BuyCurrency, &e.SellCurrency,
		&buyAmount, &sellAmount, &feePayer,
		&buyerWallet, &sellerWallet,
		&buyerBank, &sellerBank,
		&state, &deadline,
		&e.BuyerConfirmedFunding, &e.SellerConfirmedFunding,
		&e.BuyerMarkedPaymentSent, &e.SellerMarkedPaymentSent,
		&disputedBy, &disputeReason, &resolution, &resolvedAt,
		&e.Version, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	e.TradeType = TradeType(tradeType)
	e.FeePayer = ledger.Role(feePayer)
	e.State = State(state)
	if e.BuyerDepositAmount, err = money.Parse(buyAmount); err != nil {
		return nil, err
	}
	if e.SellerDepositAmount, err = money.Parse(sellAmount); err != nil {
		return nil, err
	}
	e.BuyerDepositWalletID = buyerWallet.String
	e.SellerDepositWalletID = sellerWallet.String
	e.BuyerDepositBankID = buyerBank.String
	e.SellerBankID = sellerBank.String
	e.DisputedBy = disputedBy.String
	e.DisputeReason = disputeReason.String
	e.Resolution = resolution.String
	if deadline.Valid {
		e.CounterPartyConfirmationDeadline = &deadline.Time
	}
	if resolvedAt.Valid {
		e.ResolvedAt = &resolvedAt.Time
	}

	return e, nil
}

func scanEscrows(rows *sql.Rows) ([]*Escrow, error) {
	var result []*Escrow
	for rows.Next() {
		e, err := scanEscrow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

// nullString converts an empty Go string to sql.NullString.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullTime converts a *time.Time to sql.NullTime.
func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// Compile-time assertion that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
