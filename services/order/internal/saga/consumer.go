package saga

import (
	"context"

	"example.com/factory-system/pkg/bus"
	"example.com/factory-system/pkg/messages"
)

// Consumer подключает оркестратор к шине: очередь ответов участников
// и очередь событий жизненного цикла заказа.
type Consumer struct {
	client *bus.Client
	orch   *Orchestrator
}

// NewConsumer создаёт consumer оркестратора.
func NewConsumer(client *bus.Client, orch *Orchestrator) *Consumer {
	return &Consumer{client: client, orch: orch}
}

// Run запускает оба consumer'а и блокируется до отмены контекста
// или первой ошибки канала.
func (c *Consumer) Run(ctx context.Context) error {
	errCh := make(chan error, 2)

	go func() {
		errCh <- c.client.Consume(ctx, bus.ConsumeOptions{
			Queue: "orders.responses",
			Bindings: []bus.Binding{
				{Exchange: bus.ExchangeResponses, RoutingKey: messages.KeyDeliveryChecked},
				{Exchange: bus.ExchangeResponses, RoutingKey: messages.KeyDeliveryCanceled},
				{Exchange: bus.ExchangeResponses, RoutingKey: messages.KeyDeliveryCheckedCancel},
				{Exchange: bus.ExchangeResponses, RoutingKey: messages.KeyDeliveryRevertedCancel},
				{Exchange: bus.ExchangeResponses, RoutingKey: messages.KeyPaymentChecked},
				{Exchange: bus.ExchangeResponses, RoutingKey: messages.KeyPaymentCheckedCancel},
				{Exchange: bus.ExchangeResponses, RoutingKey: messages.KeyPaymentRevertedCancel},
				{Exchange: bus.ExchangeResponses, RoutingKey: messages.KeyWarehouseCheckedCancel},
			},
		}, c.orch.HandleResponse)
	}()

	go func() {
		errCh <- c.client.Consume(ctx, bus.ConsumeOptions{
			Queue: "orders.events",
			Bindings: []bus.Binding{
				{Exchange: bus.ExchangeEvents, RoutingKey: messages.KeyOrdersProduced},
				{Exchange: bus.ExchangeEvents, RoutingKey: messages.KeyOrdersDelivering},
				{Exchange: bus.ExchangeEvents, RoutingKey: messages.KeyOrdersDelivered},
			},
		}, c.orch.HandleEvent)
	}()

	return <-errCh
}
