package kafka

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// Handler must return nil only when the message was processed and its
// offset may be committed.
type Handler func(ctx context.Context, m kafka.Message) error

type Consumer struct {
	r       *kafka.Reader
	workers int
}

func NewConsumer(brokers []string, group, topic string, workers int) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit
	})
	if workers <= 0 {
		workers = 1
	}
	return &Consumer{r: r, workers: workers}
}

// pool runs handler workers. errs is closed once every worker has exited,
// so stop can drain it to completion: a worker blocked on a full errs
// buffer is always unblocked rather than leaked.
type pool struct {
	jobs chan kafka.Message
	errs chan error
	wg   sync.WaitGroup
}

func newPool(ctx context.Context, workers int, process Handler) *pool {
	p := &pool{
		jobs: make(chan kafka.Message, 1024),
		errs: make(chan error, workers),
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for m := range p.jobs {
				if err := process(ctx, m); err != nil {
					p.errs <- err
				}
			}
		}()
	}
	go func() {
		p.wg.Wait()
		close(p.errs)
	}()
	return p
}

// stop closes intake, waits for the workers and drains their errors.
func (p *pool) stop() {
	close(p.jobs)
	for e := range p.errs {
		log.Printf("worker error: %v", e)
	}
}

func (c *Consumer) Start(ctx context.Context, h Handler) error {
	defer c.r.Close()

	p := newPool(ctx, c.workers, func(ctx context.Context, m kafka.Message) error {
		if err := h(ctx, m); err != nil {
			return err
		}
		return c.r.CommitMessages(ctx, m)
	})
	defer p.stop()

	for {
		m, err := c.r.ReadMessage(ctx)
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		select {
		case p.jobs <- m:
		case <-ctx.Done():
			return nil
		}

		// drain worker errors without blocking the dispatch loop
		select {
		case e := <-p.errs:
			if e != nil {
				log.Printf("worker error: %v", e)
				time.Sleep(200 * time.Millisecond)
			}
		default:
		}
	}
}
