package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

// --- Sellers ---

// CreateSeller inserts a seller. Returns ErrAlreadyExists when the account id
// or email is already registered.
func (s *Storage) CreateSeller(ctx context.Context, id, name, email string) (*Seller, error) {
	name = strings.ToLower(name)
	email = strings.ToLower(email)

	var count int
	err := s.db.QueryRowContext(ctx, s.rebind(
		"SELECT COUNT(*) FROM sellers WHERE id = ? OR email = ?"), id, email,
	).Scan(&count)
	if err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, ErrAlreadyExists
	}

	now := time.Now().Unix()
	result, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO sellers (id, name, email, payment_link, is_onboarded, created_at)
		 VALUES (?, ?, ?, '', ?, ?)
		 ON CONFLICT DO NOTHING`),
		id, name, email, false, now,
	)
	if err != nil {
		return nil, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return nil, ErrAlreadyExists
	}

	return &Seller{
		ID:        id,
		Name:      name,
		Email:     email,
		CreatedAt: time.Unix(now, 0),
	}, nil
}

// GetSeller returns a seller by account id
func (s *Storage) GetSeller(ctx context.Context, id string) (*Seller, error) {
	return s.scanSeller(s.db.QueryRowContext(ctx, s.rebind(
		`SELECT id, name, email, payment_link, is_onboarded, created_at
		 FROM sellers WHERE id = ?`), id,
	))
}

// FindSellerByLogin looks a seller up by name and email, case-insensitively
func (s *Storage) FindSellerByLogin(ctx context.Context, name, email string) (*Seller, error) {
	return s.scanSeller(s.db.QueryRowContext(ctx, s.rebind(
		`SELECT id, name, email, payment_link, is_onboarded, created_at
		 FROM sellers WHERE email = ? AND name = ?`),
		strings.ToLower(email), strings.ToLower(name),
	))
}

// MarkSellerOnboarded flags the seller as onboarded and stores its payment link
func (s *Storage) MarkSellerOnboarded(ctx context.Context, id, paymentLink string) error {
	result, err := s.db.ExecContext(ctx, s.rebind(
		"UPDATE sellers SET is_onboarded = ?, payment_link = ? WHERE id = ?"),
		true, paymentLink, id,
	)
	if err != nil {
		return err
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// SellerPaymentLink returns the stored payment link for a seller
func (s *Storage) SellerPaymentLink(ctx context.Context, id string) (string, error) {
	var link string
	err := s.db.QueryRowContext(ctx, s.rebind(
		"SELECT payment_link FROM sellers WHERE id = ?"), id,
	).Scan(&link)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && link == "") {
		return "", ErrNotFound
	}
	return link, err
}

func (s *Storage) scanSeller(row *sql.Row) (*Seller, error) {
	var sl Seller
	var createdAt int64

	err := row.Scan(&sl.ID, &sl.Name, &sl.Email, &sl.PaymentLink, &sl.IsOnboarded, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	sl.CreatedAt = time.Unix(createdAt, 0)
	return &sl, nil
}
