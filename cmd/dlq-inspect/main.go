// Package main содержит утилиту ручного разбора мёртвых писем конвейера.
//
// Читает очереди <queue>.dlq в RabbitMQ (сообщения возвращаются в очередь) либо
// Kafka топик DLQ, если сервисы запущены с DLQ_BACKEND=kafka, и печатает записи
// в stdout по одной JSON-строке с раскодированным исходным событием.
//
// Переменные окружения:
//   - DLQ_SOURCE: rabbitmq (по умолчанию) или kafka
//   - DLQ_QUEUES: очереди через запятую, по умолчанию все очереди конвейера
//   - DLQ_LIMIT: максимум записей на очередь (0 без ограничения)
//   - RABBITMQ_* и KAFKA_* как у сервисов
package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v10"
	"go.uber.org/zap"

	"github.com/shestoi/orderflow/platform/events"
	platformkafka "github.com/shestoi/orderflow/platform/kafka"
	platformlogging "github.com/shestoi/orderflow/platform/logging"
	platformrabbitmq "github.com/shestoi/orderflow/platform/rabbitmq"
)

type config struct {
	Source string        `env:"DLQ_SOURCE" envDefault:"rabbitmq"`
	Queues []string      `env:"DLQ_QUEUES" envSeparator:","`
	Limit  int           `env:"DLQ_LIMIT" envDefault:"20"`
	Idle   time.Duration `env:"DLQ_IDLE" envDefault:"2s"`
}

// record строка вывода
type record struct {
	platformrabbitmq.DLQMessage
	Event *events.Envelope `json:"event,omitempty"`
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger, err := platformlogging.New(platformlogging.Config{
		ServiceName: "dlq-inspect",
		Env:         "local",
		Level:       os.Getenv("LOG_LEVEL"),
		Format:      "console",
	})
	if err != nil {
		os.Stderr.WriteString("Failed to initialize logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer platformlogging.Sync(logger)

	var cfg config
	if err := env.Parse(&cfg); err != nil {
		logger.Error("failed to load config", zap.Error(err))
		os.Exit(1)
	}

	var dead []platformrabbitmq.DLQMessage
	switch cfg.Source {
	case "kafka":
		dead, err = readKafka(ctx, logger, cfg)
	case "rabbitmq":
		dead, err = readRabbitMQ(ctx, logger, cfg)
	default:
		logger.Error("unknown DLQ_SOURCE", zap.String("source", cfg.Source))
		os.Exit(1)
	}
	if err != nil {
		logger.Error("failed to read dead letters", zap.Error(err), zap.String("source", cfg.Source))
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	for _, dl := range dead {
		if err := enc.Encode(toRecord(dl)); err != nil {
			logger.Error("failed to write record", zap.Error(err))
			os.Exit(1)
		}
	}
	logger.Info("dead letters listed", zap.Int("count", len(dead)), zap.String("source", cfg.Source))
}

func readKafka(ctx context.Context, logger *zap.Logger, cfg config) ([]platformrabbitmq.DLQMessage, error) {
	kafkaCfg, err := platformkafka.LoadEnv()
	if err != nil {
		return nil, err
	}
	logger.Info("reading kafka dlq",
		zap.Strings("brokers", kafkaCfg.Brokers),
		zap.String("topic", kafkaCfg.DLQTopic),
	)

	reader := platformkafka.NewDLQReader(logger, kafkaCfg)
	defer func() {
		if err := reader.Close(); err != nil {
			logger.Error("failed to close kafka reader", zap.Error(err))
		}
	}()
	return reader.Read(ctx, cfg.Limit, cfg.Idle)
}

func readRabbitMQ(ctx context.Context, logger *zap.Logger, cfg config) ([]platformrabbitmq.DLQMessage, error) {
	rabbitCfg, err := platformrabbitmq.LoadEnv()
	if err != nil {
		return nil, err
	}
	rabbitCfg.DialAttempts = 1

	conn, err := platformrabbitmq.Dial(ctx, rabbitCfg, "dlq-inspect", logger)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	queues := cfg.Queues
	if len(queues) == 0 {
		for _, q := range platformrabbitmq.DefaultTopology(rabbitCfg).Queues {
			queues = append(queues, q.DeadLetterQueue())
		}
	}

	var out []platformrabbitmq.DLQMessage
	for _, queue := range queues {
		ch, err := conn.Channel()
		if err != nil {
			return out, err
		}
		dead, err := platformrabbitmq.PeekDeadLetters(ch, queue, cfg.Limit)
		ch.Close()
		if err != nil {
			return out, err
		}
		logger.Info("queue inspected", zap.String("queue", queue), zap.Int("messages", len(dead)))
		out = append(out, dead...)
	}
	return out, nil
}

func toRecord(dl platformrabbitmq.DLQMessage) record {
	rec := record{DLQMessage: dl}
	body, err := base64.StdEncoding.DecodeString(dl.OriginalBody)
	if err != nil {
		return rec
	}
	if env, err := events.Decode(body); err == nil {
		rec.Event = &env
	}
	return rec
}
