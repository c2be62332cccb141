package messaging

import (
	"context"
	"log"
	"sync"
	"time"

	"linetrack/store"
)

// Conn is the broker connection the drainer publishes through.
type Conn interface {
	Publish(topic string, payload []byte) error
	IsConnected() bool
}

// Outbox tuning.
const (
	MaxOutboxRetries  = 10
	outboxBatch       = 50
	defaultDrainEvery = 5 * time.Second
)

// OutboxDrainer forwards queued station events once a broker is reachable.
// Rows that fail MaxOutboxRetries times are retired, not deleted.
type OutboxDrainer struct {
	db    *store.DB
	conn  Conn
	every time.Duration

	cancel context.CancelFunc
	done   sync.WaitGroup
	once   sync.Once
}

func NewOutboxDrainer(db *store.DB, conn Conn, every time.Duration) *OutboxDrainer {
	if every <= 0 {
		every = defaultDrainEvery
	}
	return &OutboxDrainer{db: db, conn: conn, every: every}
}

// Start runs the drain loop until Stop.
func (d *OutboxDrainer) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.done.Add(1)
	go func() {
		defer d.done.Done()
		t := time.NewTicker(d.every)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				d.Drain()
				return
			case <-t.C:
				d.Drain()
			}
		}
	}()
}

// Stop ends the loop after one final flush. Safe to call more than once.
func (d *OutboxDrainer) Stop() {
	d.once.Do(func() {
		if d.cancel != nil {
			d.cancel()
		}
	})
	d.done.Wait()
}

// Drain sends one batch and reports how many rows went out.
func (d *OutboxDrainer) Drain() int {
	if !d.conn.IsConnected() {
		return 0
	}
	batch, err := d.db.PendingOutbox(outboxBatch)
	if err != nil {
		log.Printf("outbox: read backlog: %v", err)
		return 0
	}

	var sent int
	for _, m := range batch {
		if perr := d.conn.Publish(m.Topic, m.Payload); perr != nil {
			attempts, retired, err := d.db.FailOutbox(m.ID, MaxOutboxRetries)
			switch {
			case err != nil:
				log.Printf("outbox: record failure for #%d: %v", m.ID, err)
			case retired:
				log.Printf("outbox: giving up on #%d (%s) after %d attempts: %v", m.ID, m.MsgType, attempts, perr)
			}
			continue
		}
		if err := d.db.MarkOutboxSent(m.ID); err != nil {
			log.Printf("outbox: mark #%d sent: %v", m.ID, err)
			continue
		}
		sent++
	}
	return sent
}
