package store

import "time"

// OutboxMessage is an encoded envelope waiting for the broker. Dropped
// messages keep their row with SentAt set so the backlog stays bounded.
type OutboxMessage struct {
	ID        int64
	Topic     string
	MsgType   string
	Source    string
	Payload   []byte
	Attempts  int
	CreatedAt time.Time
	SentAt    *time.Time
}

// EnqueueOutbox queues payload for topic and returns its id.
func (db *DB) EnqueueOutbox(topic, msgType, source string, payload []byte) (int64, error) {
	return db.insertID(`INSERT INTO outbox (topic, msg_type, source, payload) VALUES (?, ?, ?, ?)`,
		topic, msgType, source, payload)
}

// PendingOutbox returns unsent messages, oldest first.
func (db *DB) PendingOutbox(limit int) ([]OutboxMessage, error) {
	rows, err := db.Query(db.Q(`SELECT id, topic, msg_type, source, payload, attempts, created_at, sent_at
		FROM outbox WHERE sent_at IS NULL ORDER BY id LIMIT ?`), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []OutboxMessage
	for rows.Next() {
		var (
			m               OutboxMessage
			created, sentAt any
		)
		if err := rows.Scan(&m.ID, &m.Topic, &m.MsgType, &m.Source, &m.Payload, &m.Attempts, &created, &sentAt); err != nil {
			return nil, err
		}
		m.CreatedAt = scanTime(created)
		m.SentAt = scanTimePtr(sentAt)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// MarkOutboxSent records a successful publish.
func (db *DB) MarkOutboxSent(id int64) error {
	_, err := db.Exec(db.Q(`UPDATE outbox SET sent_at=CURRENT_TIMESTAMP WHERE id=?`), id)
	return err
}

// FailOutbox counts a failed publish. Once attempts reach maxAttempts the
// message is retired and dropped is true.
func (db *DB) FailOutbox(id int64, maxAttempts int) (attempts int, dropped bool, err error) {
	err = db.QueryRow(db.Q(`UPDATE outbox SET attempts=attempts+1 WHERE id=? RETURNING attempts`), id).Scan(&attempts)
	if err != nil || attempts < maxAttempts {
		return attempts, false, err
	}
	_, err = db.Exec(db.Q(`UPDATE outbox SET sent_at=CURRENT_TIMESTAMP, dropped=1 WHERE id=?`), id)
	return attempts, err == nil, err
}

// OutboxBacklog counts messages still waiting and messages given up on.
func (db *DB) OutboxBacklog() (pending, dropped int, err error) {
	err = db.QueryRow(`SELECT
		COALESCE(SUM(CASE WHEN sent_at IS NULL THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(dropped), 0)
		FROM outbox`).Scan(&pending, &dropped)
	return pending, dropped, err
}
