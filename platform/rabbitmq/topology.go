package rabbitmq

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Очереди сервисов конвейера
const (
	PaymentQueue      = "payment_service_queue"
	OrderUpdatesQueue = "order_updates_queue"
	NotificationQueue = "email_service_queue"
)

// Шаблоны привязок
const (
	BindingOrderCreated     = "order.*.created"
	BindingPaymentProcessed = "payment.*.processed"
)

// QueueSpec durable очередь и её привязки к topic exchange
type QueueSpec struct {
	Name     string
	Bindings []string
}

// DeadLetterQueue имя очереди мёртвых писем для очереди
func (q QueueSpec) DeadLetterQueue() string {
	return q.Name + ".dlq"
}

// Topology описание exchange-ей и очередей конвейера
type Topology struct {
	Exchange           string
	DeadLetterExchange string
	Queues             []QueueSpec
}

// DefaultTopology полная топология конвейера.
// Каждый сервис объявляет её целиком: очередь Payment Service существует, даже если он
// ещё не запускался, и OrderCreated не теряется.
func DefaultTopology(cfg Config) Topology {
	return Topology{
		Exchange:           cfg.Exchange,
		DeadLetterExchange: cfg.DeadLetterExchange,
		Queues: []QueueSpec{
			{Name: PaymentQueue, Bindings: []string{BindingOrderCreated}},
			{Name: OrderUpdatesQueue, Bindings: []string{BindingPaymentProcessed}},
			{Name: NotificationQueue, Bindings: []string{BindingPaymentProcessed}},
		},
	}
}

// Validate проверяет описание до обращения к брокеру
func (t Topology) Validate() error {
	if t.Exchange == "" {
		return fmt.Errorf("topology: exchange is required")
	}
	if t.DeadLetterExchange == "" || t.DeadLetterExchange == t.Exchange {
		return fmt.Errorf("topology: dead-letter exchange must be set and differ from exchange")
	}
	seen := make(map[string]struct{}, len(t.Queues))
	for _, q := range t.Queues {
		if q.Name == "" {
			return fmt.Errorf("topology: queue name is required")
		}
		if _, dup := seen[q.Name]; dup {
			return fmt.Errorf("topology: duplicate queue %q", q.Name)
		}
		seen[q.Name] = struct{}{}
		if len(q.Bindings) == 0 {
			return fmt.Errorf("topology: queue %q has no bindings", q.Name)
		}
	}
	return nil
}

// Declarer подмножество *amqp.Channel, нужное для объявления топологии
type Declarer interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
}

// Declare объявляет exchange-и, очереди, DLQ и привязки.
// Все операции идемпотентны: повторный запуск с теми же параметрами ничего не меняет.
// Аргументы очередей всегда одинаковые, иначе брокер ответит PRECONDITION_FAILED.
func Declare(ch Declarer, t Topology) error {
	if err := t.Validate(); err != nil {
		return err
	}

	if err := ch.ExchangeDeclare(t.Exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", t.Exchange, err)
	}
	if err := ch.ExchangeDeclare(t.DeadLetterExchange, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare dead-letter exchange %s: %w", t.DeadLetterExchange, err)
	}

	for _, q := range t.Queues {
		dlq := q.DeadLetterQueue()
		if _, err := ch.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare queue %s: %w", dlq, err)
		}
		if err := ch.QueueBind(dlq, q.Name, t.DeadLetterExchange, false, nil); err != nil {
			return fmt.Errorf("bind queue %s: %w", dlq, err)
		}

		args := amqp.Table{
			"x-dead-letter-exchange":    t.DeadLetterExchange,
			"x-dead-letter-routing-key": q.Name,
		}
		if _, err := ch.QueueDeclare(q.Name, true, false, false, false, args); err != nil {
			return fmt.Errorf("declare queue %s: %w", q.Name, err)
		}
		for _, key := range q.Bindings {
			if err := ch.QueueBind(q.Name, key, t.Exchange, false, nil); err != nil {
				return fmt.Errorf("bind queue %s to %s: %w", q.Name, key, err)
			}
		}
	}
	return nil
}

// DeclareWith открывает временный канал на соединении и объявляет топологию
func DeclareWith(conn *Connection, t Topology) error {
	ch, err := conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	return Declare(ch, t)
}
