package logger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturePublisher struct {
	mu      sync.Mutex
	topic   string
	batches []LogBatch
}

func (p *capturePublisher) PublishMessage(_ context.Context, topic string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topic = topic
	p.batches = append(p.batches, payload.(LogBatch))
	return nil
}

func TestCollectorFoldsRepeatsAndFlushesOnClose(t *testing.T) {
	pub := &capturePublisher{}
	c := NewLogCollector(&CollectionConfig{
		TimeInterval: time.Hour,
		Topic:        "gatekeeper.logs",
		Source:       "proc-a",
		Publisher:    pub,
	})

	fields := map[string]interface{}{"store": "redis"}
	c.AddLog("error", "lock store unavailable", fields, "manager.go:88")
	c.AddLog("error", "lock store unavailable", fields, "manager.go:88")
	c.AddLog("warn", "gate state malformed", nil, "gate.go:340")
	c.Close()

	pub.mu.Lock()
	defer pub.mu.Unlock()
	require.Len(t, pub.batches, 1)
	assert.Equal(t, "gatekeeper.logs", pub.topic)
	batch := pub.batches[0]
	assert.Equal(t, "proc-a", batch.Source)
	require.Len(t, batch.Entries, 2)

	counts := map[string]int{}
	for _, e := range batch.Entries {
		counts[e.Message] = e.Count
	}
	assert.Equal(t, 2, counts["lock store unavailable"])
	assert.Equal(t, 1, counts["gate state malformed"])
}

func TestLoggerChildSharesCollector(t *testing.T) {
	pub := &capturePublisher{}
	l := Nop()
	l.AddCollector(&CollectionConfig{TimeInterval: time.Hour, Publisher: pub})

	l.With("gate").Error("budget store down", String("op", "load"))
	l.With("lock").Error("lock store down", Int("attempt", 1))
	l.Warn("not collected")
	l.RemoveCollector()

	pub.mu.Lock()
	defer pub.mu.Unlock()
	require.Len(t, pub.batches, 1)
	assert.Len(t, pub.batches[0].Entries, 2)
}
