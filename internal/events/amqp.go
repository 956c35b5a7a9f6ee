package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"github.com/wolfman30/dashboard-sync/pkg/logging"
)

// AMQPConfig describes the topic exchange and queue to consume from.
type AMQPConfig struct {
	URL      string
	Exchange string
	Queue    string
	Workers  int
	Prefetch int
}

// AMQPSubscriber consumes invalidation events from a RabbitMQ topic exchange.
type AMQPSubscriber struct {
	conn       *amqp091.Connection
	ch         *amqp091.Channel
	cfg        AMQPConfig
	dispatcher *Dispatcher
	logger     *logging.Logger

	wg        sync.WaitGroup
	startOnce sync.Once
	closeOnce sync.Once
}

// DialAMQP connects and declares the exchange.
func DialAMQP(cfg AMQPConfig, dispatcher *Dispatcher, logger *logging.Logger) (*AMQPSubscriber, error) {
	if cfg.URL == "" || cfg.Exchange == "" || cfg.Queue == "" {
		return nil, errors.New("events: amqp url, exchange and queue required")
	}
	if dispatcher == nil {
		return nil, errors.New("events: dispatcher required")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 10
	}
	if logger == nil {
		logger = logging.Default()
	}

	conn, err := amqp091.Dial(cfg.URL)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := ch.ExchangeDeclare(cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, err
	}
	return &AMQPSubscriber{
		conn:       conn,
		ch:         ch,
		cfg:        cfg,
		dispatcher: dispatcher,
		logger:     logger.With("component", "events.amqp"),
	}, nil
}

// Start binds the queue to every known routing key and starts the workers.
// Workers stop when ctx is done or the channel closes.
func (s *AMQPSubscriber) Start(ctx context.Context) error {
	var startErr error
	s.startOnce.Do(func() {
		deliveries, err := s.setupQueue()
		if err != nil {
			startErr = err
			return
		}
		for i := 0; i < s.cfg.Workers; i++ {
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.consume(ctx, deliveries)
			}()
		}
		s.logger.Info("amqp subscriber started", "queue", s.cfg.Queue, "exchange", s.cfg.Exchange)
	})
	return startErr
}

func (s *AMQPSubscriber) setupQueue() (<-chan amqp091.Delivery, error) {
	if err := s.ch.Qos(s.cfg.Prefetch, 0, false); err != nil {
		return nil, err
	}
	q, err := s.ch.QueueDeclare(s.cfg.Queue, true, false, false, false, nil)
	if err != nil {
		return nil, err
	}
	for _, key := range RoutingKeys() {
		if err := s.ch.QueueBind(q.Name, key, s.cfg.Exchange, false, nil); err != nil {
			return nil, err
		}
	}
	return s.ch.Consume(q.Name, "", false, false, false, false, nil)
}

func (s *AMQPSubscriber) consume(ctx context.Context, deliveries <-chan amqp091.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-deliveries:
			if !ok {
				return
			}
			s.handleDelivery(ctx, msg)
		}
	}
}

func (s *AMQPSubscriber) handleDelivery(ctx context.Context, msg amqp091.Delivery) {
	hctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	err := s.dispatcher.HandleBody(hctx, msg.Body)
	cancel()
	switch {
	case err == nil:
		_ = msg.Ack(false)
	case IsPermanent(err):
		s.logger.Warn("dropping malformed event", "key", msg.RoutingKey, "error", err)
		_ = msg.Nack(false, false)
	default:
		s.logger.Error("handler error", "key", msg.RoutingKey, "error", err)
		_ = msg.Nack(false, true)
	}
}

// Close waits for the workers and closes the connection.
func (s *AMQPSubscriber) Close() error {
	var err error
	s.closeOnce.Do(func() {
		_ = s.ch.Close()
		s.wg.Wait()
		err = s.conn.Close()
	})
	return err
}
