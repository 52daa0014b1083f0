package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/Chrimika/electro-shop-control/internal/core/domain"
	"github.com/Chrimika/electro-shop-control/internal/port"
)

const (
	ExchangeName = "sales_events"
	ExchangeType = "topic"

	connectAttempts = 5
	connectDelay    = 2 * time.Second
)

// SetupConn dials the broker and declares the sales exchange.
func SetupConn(url string) (*amqp.Connection, *amqp.Channel, error) {
	var conn *amqp.Connection
	var err error

	for i := 0; i < connectAttempts; i++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			break
		}
		log.Printf("messaging: connect to RabbitMQ (attempt %d): %v", i+1, err)
		time.Sleep(connectDelay)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("could not connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("could not open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		ExchangeName, // name
		ExchangeType, // type
		true,         // durable
		false,        // auto-deleted
		false,        // internal
		false,        // no-wait
		nil,          // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, nil, fmt.Errorf("could not declare exchange: %w", err)
	}

	return conn, ch, nil
}

// RoutingKey is sale.committed.<store>.
func RoutingKey(event domain.SaleCommitted) string {
	return "sale.committed." + event.StoreID
}

// RabbitMQNotifier publishes SaleCommitted events as JSON.
type RabbitMQNotifier struct {
	mu sync.Mutex
	ch *amqp.Channel
}

var _ port.Notifier = (*RabbitMQNotifier)(nil)

func NewRabbitMQNotifier(ch *amqp.Channel) *RabbitMQNotifier {
	return &RabbitMQNotifier{ch: ch}
}

func (n *RabbitMQNotifier) PublishSaleCommitted(ctx context.Context, event domain.SaleCommitted) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("could not marshal event: %w", err)
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	return n.ch.PublishWithContext(ctx,
		ExchangeName,      // exchange
		RoutingKey(event), // routing key
		false,             // mandatory
		false,             // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    event.SaleID,
			Timestamp:    event.CommittedAt,
			Body:         body,
		},
	)
}

// LogNotifier writes events to the process log when no broker is configured.
type LogNotifier struct{}

var _ port.Notifier = LogNotifier{}

func (LogNotifier) PublishSaleCommitted(_ context.Context, event domain.SaleCommitted) error {
	log.Printf("messaging: sale committed id=%s store=%s total=%s", event.SaleID, event.StoreID, event.TotalAmount)
	return nil
}
