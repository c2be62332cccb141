package messaging

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	kafkago "github.com/segmentio/kafka-go"
)

const kafkaWriteWait = 2 * time.Second

// kafkaBroker writes through one shared writer and reads each subscribed
// topic with its own group reader starting at the newest offset.
type kafkaBroker struct {
	brokers []string
	group   string

	w      *kafkago.Writer
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	topics map[string]*kafkago.Reader
}

func newKafkaBroker(brokers []string, group string) *kafkaBroker {
	return &kafkaBroker{brokers: brokers, group: group, topics: map[string]*kafkago.Reader{}}
}

func (k *kafkaBroker) connect() error {
	if len(k.brokers) == 0 {
		return errors.New("kafka: no brokers configured")
	}
	k.w = &kafkago.Writer{
		Addr:                   kafkago.TCP(k.brokers...),
		Balancer:               &kafkago.LeastBytes{},
		RequiredAcks:           kafkago.RequireOne,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
	k.ctx, k.cancel = context.WithCancel(context.Background())
	log.Printf("messaging: kafka %v group %s", k.brokers, k.group)
	return nil
}

func (k *kafkaBroker) publish(topic string, payload []byte) error {
	ctx, cancel := context.WithTimeout(k.ctx, kafkaWriteWait)
	defer cancel()
	return k.w.WriteMessages(ctx, kafkago.Message{Topic: topic, Value: payload})
}

func (k *kafkaBroker) subscribe(topic string, fn func([]byte)) error {
	if _, dup := k.topics[topic]; dup {
		return fmt.Errorf("kafka: %s already subscribed", topic)
	}
	r := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     k.brokers,
		Topic:       topic,
		GroupID:     k.group,
		StartOffset: kafkago.LastOffset,
	})
	k.topics[topic] = r
	k.wg.Add(1)
	go func() {
		defer k.wg.Done()
		for {
			msg, err := r.ReadMessage(k.ctx)
			if err != nil {
				if k.ctx.Err() == nil {
					log.Printf("messaging: kafka read %s: %v", topic, err)
				}
				return
			}
			fn(msg.Value)
		}
	}()
	return nil
}

// connected reports writer presence; kafka-go dials lazily per write.
func (k *kafkaBroker) connected() bool { return k.w != nil }

func (k *kafkaBroker) close() {
	k.cancel()
	for topic, r := range k.topics {
		r.Close()
		delete(k.topics, topic)
	}
	k.wg.Wait()
	k.w.Close()
	k.w = nil
}
