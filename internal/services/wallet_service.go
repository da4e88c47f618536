package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/staybook/backend/internal/audit"
	"github.com/staybook/backend/internal/metrics"
	mW "github.com/staybook/backend/internal/middleware"
	"github.com/staybook/backend/internal/models"
	"go.uber.org/zap"
)

const walletColumns = `id, user_id, role, balance, hold_balance, commission, currency, created_at, updated_at`

type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Movement is one audited change to a wallet balance field.
type Movement struct {
	WalletID    uuid.UUID
	Amount      decimal.Decimal
	Field       string
	Type        string
	BookingID   *uuid.UUID
	BookingType string
	Metadata    models.Metadata
}

// WalletService keeps per-(user, role) balances. Every movement clamps at
// zero and is preceded by a wallet_transactions row in the same DB transaction.
type WalletService struct {
	db        *sql.DB
	audit     *audit.Logger
	logger    *zap.Logger
	validator *ValidationHelper
	currency  string
}

func NewWalletService(db *sql.DB, auditLogger *audit.Logger, logger *zap.Logger, currency string) *WalletService {
	return &WalletService{
		db:        db,
		audit:     auditLogger,
		logger:    logger,
		validator: NewValidationHelper(),
		currency:  currency,
	}
}

func scanWallet(row rowScanner) (*models.Wallet, error) {
	var w models.Wallet
	if err := row.Scan(&w.ID, &w.UserID, &w.Role, &w.Balance, &w.HoldBalance, &w.Commission,
		&w.Currency, &w.CreatedAt, &w.UpdatedAt); err != nil {
		return nil, err
	}
	return &w, nil
}

// GetOrCreate finds the wallet for (userID, role), inserting it on first use.
// Concurrent callers converge on the single row the unique key allows.
func (s *WalletService) GetOrCreate(ctx context.Context, userID, role string) (*models.Wallet, error) {
	return s.getOrCreate(ctx, s.db, userID, role)
}

func (s *WalletService) getOrCreate(ctx context.Context, q dbtx, userID, role string) (*models.Wallet, error) {
	if role != models.WalletRoleGuest && role != models.WalletRoleHost {
		return nil, &ValidationError{Field: "role", Reason: "must be guest or host"}
	}
	if userID == "" {
		return nil, &ValidationError{Field: "userId", Reason: "required"}
	}

	now := time.Now().UTC()
	if _, err := q.ExecContext(ctx, `
		INSERT INTO wallets (id, user_id, role, currency, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (user_id, role) DO NOTHING`,
		uuid.New(), userID, role, s.currency, now); err != nil {
		return nil, fmt.Errorf("insert wallet: %w", err)
	}

	w, err := scanWallet(q.QueryRowContext(ctx, `SELECT `+walletColumns+` FROM wallets WHERE user_id = $1 AND role = $2`, userID, role))
	if err != nil {
		return nil, fmt.Errorf("load wallet: %w", err)
	}
	return w, nil
}

func (s *WalletService) Credit(ctx context.Context, m Movement) (*models.Wallet, error) {
	return s.applyInTx(ctx, m, models.DirectionCredit)
}

func (s *WalletService) Debit(ctx context.Context, m Movement) (*models.Wallet, error) {
	return s.applyInTx(ctx, m, models.DirectionDebit)
}

// ReleaseHold moves up to amount from hold_balance into balance as a single
// audited movement. It never moves more than is currently held.
func (s *WalletService) ReleaseHold(ctx context.Context, m Movement) (*models.Wallet, error) {
	m.Field = models.FieldHoldToBalance
	return s.applyInTx(ctx, m, models.DirectionCredit)
}

func (s *WalletService) applyInTx(ctx context.Context, m Movement, direction string) (*models.Wallet, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	w, err := s.apply(ctx, tx, m, direction)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit wallet movement: %w", err)
	}

	s.recordMovement(m, direction)
	return w, nil
}

func movementUpdate(field, direction string) (string, error) {
	switch {
	case field == models.FieldHoldToBalance:
		// SET expressions all read the pre-update row.
		return `hold_balance = GREATEST(0, hold_balance - $1), balance = balance + LEAST($1, hold_balance)`, nil
	case field != models.FieldBalance && field != models.FieldHoldBalance:
		return "", &ValidationError{Field: "field", Reason: "unknown wallet field " + field}
	case direction == models.DirectionCredit:
		return fmt.Sprintf("%[1]s = GREATEST(0, %[1]s + $1)", field), nil
	default:
		return fmt.Sprintf("%[1]s = GREATEST(0, %[1]s - $1)", field), nil
	}
}

// apply writes the audit row then the clamped balance update on tx. Callers
// that share tx with other writes call recordMovement after they commit.
func (s *WalletService) apply(ctx context.Context, tx dbtx, m Movement, direction string) (*models.Wallet, error) {
	if !m.Amount.IsPositive() {
		return nil, &ValidationError{Field: "amount", Reason: "must be positive"}
	}
	set, err := movementUpdate(m.Field, direction)
	if err != nil {
		return nil, err
	}

	var bookingType *string
	if m.BookingType != "" {
		bookingType = &m.BookingType
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO wallet_transactions (id, wallet_id, amount, field, direction, transaction_type, status,
			booking_id, booking_type, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		uuid.New(), m.WalletID, m.Amount, m.Field, direction, m.Type, models.WalletTxStatusCompleted,
		m.BookingID, bookingType, m.Metadata, now); err != nil {
		return nil, fmt.Errorf("insert wallet transaction: %w", err)
	}

	w, err := scanWallet(tx.QueryRowContext(ctx,
		`UPDATE wallets SET `+set+`, updated_at = $2 WHERE id = $3 RETURNING `+walletColumns,
		m.Amount, now, m.WalletID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{Entity: "wallet", ID: m.WalletID.String()}
	}
	if err != nil {
		return nil, fmt.Errorf("update wallet: %w", err)
	}
	return w, nil
}

func (s *WalletService) recordMovement(m Movement, direction string) {
	bookingID := ""
	if m.BookingID != nil {
		bookingID = m.BookingID.String()
	}
	s.audit.LogMovement(m.WalletID.String(), bookingID, m.Type, m.Field+":"+direction, m.Amount.String(), models.WalletTxStatusCompleted)
	metrics.WalletMovements.WithLabelValues(m.Type).Inc()
}

func (s *WalletService) ListTransactions(ctx context.Context, walletID uuid.UUID, limit int) ([]models.WalletTransaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, wallet_id, amount, field, direction, transaction_type, status, booking_id, booking_type, metadata, created_at
		FROM wallet_transactions WHERE wallet_id = $1
		ORDER BY created_at DESC LIMIT $2`, walletID, limit)
	if err != nil {
		return nil, fmt.Errorf("list wallet transactions: %w", err)
	}
	defer rows.Close()

	out := []models.WalletTransaction{}
	for rows.Next() {
		var t models.WalletTransaction
		if err := rows.Scan(&t.ID, &t.WalletID, &t.Amount, &t.Field, &t.Direction, &t.TransactionType,
			&t.Status, &t.BookingID, &t.BookingType, &t.Metadata, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// GetMyWallet returns the caller's wallet for a role
// @Summary Get my wallet
// @Description Returns the authenticated user's wallet, creating it on first access
// @Tags wallets
// @Produce json
// @Security BearerAuth
// @Param role query string false "guest or host (default guest)"
// @Success 200 {object} models.Wallet
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Router /wallets/me [get]
func (s *WalletService) GetMyWallet(w http.ResponseWriter, r *http.Request) {
	userID, ok := mW.UserIDFromContext(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	role := r.URL.Query().Get("role")
	if role == "" {
		role = models.WalletRoleGuest
	}

	wallet, err := s.GetOrCreate(r.Context(), userID, role)
	if err != nil {
		s.logger.Error("get wallet failed", zap.String("user_id", userID), zap.Error(err))
		WriteServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wallet)
}

// ListMyTransactions lists the caller's wallet movements
// @Summary List my wallet transactions
// @Description Most recent wallet movements for the authenticated user's wallet
// @Tags wallets
// @Produce json
// @Security BearerAuth
// @Param role query string false "guest or host (default guest)"
// @Param limit query int false "Number of rows (default: 20, max: 100)"
// @Success 200 {object} object{transactions=[]models.WalletTransaction,count=int}
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Router /wallets/me/transactions [get]
func (s *WalletService) ListMyTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := mW.UserIDFromContext(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	req := struct {
		Role  string `validate:"oneof=guest host"`
		Limit int    `validate:"min=1,max=100"`
	}{Role: models.WalletRoleGuest, Limit: 20}

	if role := r.URL.Query().Get("role"); role != "" {
		req.Role = role
	}
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			SendErrorResponse(w, "Invalid limit", http.StatusBadRequest, nil)
			return
		}
		req.Limit = limit
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	wallet, err := s.GetOrCreate(r.Context(), userID, req.Role)
	if err != nil {
		WriteServiceError(w, err)
		return
	}

	txs, err := s.ListTransactions(r.Context(), wallet.ID, req.Limit)
	if err != nil {
		s.logger.Error("list wallet transactions failed", zap.String("wallet_id", wallet.ID.String()), zap.Error(err))
		WriteServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"transactions": txs,
		"count":        len(txs),
	})
}
