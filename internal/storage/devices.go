package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// EnsureDevice creates a zero-balance device if it does not exist yet.
// Reports whether a new row was inserted.
func (s *Storage) EnsureDevice(ctx context.Context, deviceID string) (bool, error) {
	now := time.Now().Unix()
	result, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO devices (device_id, balance_minor, last_session_id, created_at, updated_at)
		 VALUES (?, 0, '', ?, ?)
		 ON CONFLICT (device_id) DO NOTHING`),
		deviceID, now, now,
	)
	if err != nil {
		return false, err
	}

	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

// GetDevice returns a device by id
func (s *Storage) GetDevice(ctx context.Context, deviceID string) (*Device, error) {
	var d Device
	var createdAt, updatedAt int64

	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT device_id, balance_minor, last_session_id, created_at, updated_at
		 FROM devices WHERE device_id = ?`),
		deviceID,
	).Scan(&d.DeviceID, &d.BalanceMinor, &d.LastSessionID, &createdAt, &updatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	d.CreatedAt = time.Unix(createdAt, 0)
	d.UpdatedAt = time.Unix(updatedAt, 0)
	return &d, nil
}

// CreditDevice adds amountMinor to the device balance once per session.
// The session id is the idempotence key: a repeat returns the current
// balance with Applied=false. Returns ErrNotFound when the device is missing.
func (s *Storage) CreditDevice(ctx context.Context, deviceID, sessionID string, amountMinor int64, at time.Time) (Credit, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Credit{}, err
	}
	defer tx.Rollback()

	var current int64
	err = tx.QueryRowContext(ctx, s.rebind(
		"SELECT balance_minor FROM devices WHERE device_id = ?"), deviceID,
	).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return Credit{}, ErrNotFound
	}
	if err != nil {
		return Credit{}, err
	}

	result, err := tx.ExecContext(ctx, s.rebind(
		`INSERT INTO settled_sessions (session_id, device_id, amount_minor, settled_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (session_id) DO NOTHING`),
		sessionID, deviceID, amountMinor, at.Unix(),
	)
	if err != nil {
		return Credit{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		if err := tx.Commit(); err != nil {
			return Credit{}, err
		}
		return Credit{BalanceMinor: current, Applied: false}, nil
	}

	var balance int64
	err = tx.QueryRowContext(ctx, s.rebind(
		`UPDATE devices
		 SET balance_minor = balance_minor + ?, last_session_id = ?, updated_at = ?
		 WHERE device_id = ?
		 RETURNING balance_minor`),
		amountMinor, sessionID, at.Unix(), deviceID,
	).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return Credit{}, ErrNotFound
	}
	if err != nil {
		return Credit{}, err
	}

	if err := tx.Commit(); err != nil {
		return Credit{}, err
	}
	return Credit{BalanceMinor: balance, Applied: true}, nil
}

// ListSettledSessions returns the sessions credited to a device, newest first
func (s *Storage) ListSettledSessions(ctx context.Context, deviceID string) ([]SettledSession, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT session_id, device_id, amount_minor, settled_at
		 FROM settled_sessions WHERE device_id = ? ORDER BY settled_at DESC, session_id`),
		deviceID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []SettledSession
	for rows.Next() {
		var ss SettledSession
		var settledAt int64
		if err := rows.Scan(&ss.SessionID, &ss.DeviceID, &ss.AmountMinor, &settledAt); err != nil {
			return nil, err
		}
		ss.SettledAt = time.Unix(settledAt, 0)
		sessions = append(sessions, ss)
	}

	return sessions, rows.Err()
}
