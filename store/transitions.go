package store

import "time"

// Transition is one logged state-machine transition.
type Transition struct {
	ID        int64     `json:"id"`
	Machine   string    `json:"machine"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

// LogTransition appends one transition and returns its id.
func (db *DB) LogTransition(machine, from, to, reason string) (int64, error) {
	return db.insertID(`INSERT INTO state_transitions (machine, from_state, to_state, reason) VALUES (?, ?, ?, ?)`,
		machine, from, to, reason)
}

// ListTransitions returns the newest transitions first. An empty machine lists all.
func (db *DB) ListTransitions(machine string, limit int) ([]*Transition, error) {
	query := `SELECT id, machine, from_state, to_state, reason, created_at FROM state_transitions`
	args := []any{}
	if machine != "" {
		query += ` WHERE machine=?`
		args = append(args, machine)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.Query(db.Q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*Transition
	for rows.Next() {
		var t Transition
		var createdAt any
		if err := rows.Scan(&t.ID, &t.Machine, &t.From, &t.To, &t.Reason, &createdAt); err != nil {
			return nil, err
		}
		t.CreatedAt = scanTime(createdAt)
		list = append(list, &t)
	}
	return list, rows.Err()
}
