package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Operator is a station web account. Accounts survive session resets.
type Operator struct {
	ID           int64      `json:"id"`
	Username     string     `json:"username"`
	PasswordHash string     `json:"-"`
	CreatedAt    time.Time  `json:"created_at"`
	LastLogin    *time.Time `json:"last_login,omitempty"`
}

func (db *DB) CreateOperator(username, passwordHash string) error {
	_, err := db.Exec(db.Q(`INSERT INTO operators (username, password_hash) VALUES (?, ?)`), username, passwordHash)
	if err != nil {
		return fmt.Errorf("create operator %s: %w", username, err)
	}
	return nil
}

// GetOperator returns sql.ErrNoRows for an unknown username.
func (db *DB) GetOperator(username string) (*Operator, error) {
	var (
		op             Operator
		created, login any
	)
	err := db.QueryRow(db.Q(`SELECT id, username, password_hash, created_at, last_login FROM operators WHERE username=?`), username).
		Scan(&op.ID, &op.Username, &op.PasswordHash, &created, &login)
	if err != nil {
		return nil, err
	}
	op.CreatedAt = scanTime(created)
	op.LastLogin = scanTimePtr(login)
	return &op, nil
}

func (db *DB) HasOperators() (bool, error) {
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM operators`).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// SetOperatorPassword replaces the stored hash.
func (db *DB) SetOperatorPassword(username, passwordHash string) error {
	res, err := db.Exec(db.Q(`UPDATE operators SET password_hash=? WHERE username=?`), passwordHash, username)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (db *DB) RecordLogin(username string) error {
	_, err := db.Exec(db.Q(`UPDATE operators SET last_login=CURRENT_TIMESTAMP WHERE username=?`), username)
	return err
}
