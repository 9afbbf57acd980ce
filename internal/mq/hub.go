package mq

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Hub hands out one Queue per topic, created on first use.
type Hub struct {
	capacity int
	logger   *zap.Logger
	topics   sync.Map
}

func NewHub(capacity int, logger *zap.Logger) *Hub {
	return &Hub{capacity: capacity, logger: logger}
}

func (h *Hub) Topic(name string) *Queue {
	if value, ok := h.topics.Load(name); ok {
		return value.(*Queue)
	}

	opts := []QueueOption{WithName(name)}
	if h.logger != nil {
		opts = append(opts, WithLogger(h.logger))
	}

	value, _ := h.topics.LoadOrStore(name, New(h.capacity, opts...))
	return value.(*Queue)
}

func sprintf(format string, args ...any) string {
	if len(args) == 0 {
		return format
	}
	return fmt.Sprintf(format, args...)
}
