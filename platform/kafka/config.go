package kafka

import (
	"fmt"
	"strings"
)

// Config содержит конфигурацию для подключения к Kafka.
// Kafka в конвейере используется только как альтернативный приёмник мёртвых писем (DLQ_BACKEND=kafka).
type Config struct {
	// Brokers список брокеров Kafka.
	// Значение зависит от среды выполнения:
	//   - локальная разработка (go run): localhost:19092
	//   - запуск в Docker: kafka:9092
	// Можно указать несколько брокеров через запятую: "broker1:9092,broker2:9092"
	Brokers []string `env:"KAFKA_BROKERS" envSeparator:"," envDefault:"localhost:19092"`
	// DLQTopic топик, куда попадают сообщения, исчерпавшие попытки обработки
	DLQTopic string `env:"KAFKA_DLQ_TOPIC" envDefault:"ecommerce_events.dlq"`
}

// DefaultConfig возвращает конфигурацию с дефолтными значениями для локальной разработки
func DefaultConfig() Config {
	return Config{
		Brokers:  []string{"localhost:19092"},
		DLQTopic: "ecommerce_events.dlq",
	}
}

// Validate проверяет, что брокеры и топик заданы
func (c Config) Validate() error {
	if len(c.Brokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required")
	}
	for _, b := range c.Brokers {
		if strings.TrimSpace(b) == "" {
			return fmt.Errorf("KAFKA_BROKERS contains empty broker")
		}
	}
	if c.DLQTopic == "" {
		return fmt.Errorf("KAFKA_DLQ_TOPIC is required")
	}
	return nil
}
