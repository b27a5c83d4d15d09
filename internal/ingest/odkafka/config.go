package odkafka

import (
	"os"
	"strings"
	"time"
)

type Config struct {
	Enabled bool

	Brokers []string
	Topic   string
	GroupID string

	SessionTimeout   time.Duration
	Heartbeat        time.Duration
	RebalanceTimeout time.Duration
	InitialOldest    bool
}

func FromEnv() Config {
	enabled := strings.ToLower(os.Getenv("OD_TRIGGER_ENABLED")) == "true"
	brokers := strings.TrimSpace(os.Getenv("KAFKA_BROKERS"))
	if brokers == "" {
		brokers = "localhost:9092"
	}
	topic := strings.TrimSpace(os.Getenv("KAFKA_OD_TOPIC"))
	if topic == "" {
		topic = "od.ready"
	}
	group := strings.TrimSpace(os.Getenv("KAFKA_GROUP_ID"))
	if group == "" {
		group = "h3delay-dayrunner"
	}

	return Config{
		Enabled:          enabled,
		Brokers:          split(brokers),
		Topic:            topic,
		GroupID:          group,
		SessionTimeout:   30 * time.Second,
		Heartbeat:        3 * time.Second,
		RebalanceTimeout: 30 * time.Second,
		InitialOldest:    true,
	}
}

func split(s string) []string {
	var out []string
	for p := range strings.SplitSeq(s, ",") {
		if x := strings.TrimSpace(p); x != "" {
			out = append(out, x)
		}
	}
	return out
}
