package messaging

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Chrimika/electro-shop-control/internal/core/domain"
)

func testEvent() domain.SaleCommitted {
	return domain.SaleCommitted{
		SaleID:      "sale-1",
		StoreID:     "store-1",
		TotalAmount: decimal.RequireFromString("1025.48"),
		CommittedAt: time.Date(2026, 10, 14, 9, 30, 0, 0, time.UTC),
	}
}

func TestRoutingKey(t *testing.T) {
	assert.Equal(t, "sale.committed.store-1", RoutingKey(testEvent()))
}

func TestLogNotifier(t *testing.T) {
	assert.NoError(t, LogNotifier{}.PublishSaleCommitted(context.Background(), testEvent()))
}

func TestRabbitMQNotifier_Publish(t *testing.T) {
	url := os.Getenv("AMQP_URL")
	if url == "" {
		t.Skip("AMQP_URL not set, skipping integration test")
	}
	conn, ch, err := SetupConn(url)
	if err != nil {
		t.Skipf("RabbitMQ not available: %v", err)
	}
	defer conn.Close()
	defer ch.Close()

	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	require.NoError(t, err)
	require.NoError(t, ch.QueueBind(q.Name, "sale.committed.*", ExchangeName, false, nil))

	msgs, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, NewRabbitMQNotifier(ch).PublishSaleCommitted(ctx, testEvent()))

	select {
	case msg := <-msgs:
		assert.Equal(t, "sale-1", msg.MessageId)
		assert.Equal(t, "application/json", msg.ContentType)

		var got domain.SaleCommitted
		require.NoError(t, json.Unmarshal(msg.Body, &got))
		assert.Equal(t, "store-1", got.StoreID)
		assert.True(t, got.TotalAmount.Equal(decimal.RequireFromString("1025.48")))
	case <-ctx.Done():
		t.Fatal("event not delivered")
	}
}
