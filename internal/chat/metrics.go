package chat

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	messagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_messages_sent_total",
			Help: "Total number of messages sent",
		},
	)

	conversationsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_conversations_created_total",
			Help: "Total number of conversations created",
		},
		[]string{"type"},
	)
)
