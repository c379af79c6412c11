package worker_test

import (
	"context"
	"sync"
	"time"

	"pillar.vc/assistant/internal/model"
	"pillar.vc/assistant/internal/queue"
)

type settled struct {
	msg    queue.Message
	errMsg string
}

type mockConsumer struct {
	mu       sync.Mutex
	batches  [][]queue.Message
	claimed  []queue.Message
	readErr  error
	acked    []queue.Message
	requeued []settled
	dlq      []settled
}

func (m *mockConsumer) Read(ctx context.Context) ([]queue.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readErr != nil {
		return nil, m.readErr
	}
	if len(m.batches) == 0 {
		return nil, nil
	}
	batch := m.batches[0]
	m.batches = m.batches[1:]
	return batch, nil
}

func (m *mockConsumer) Claim(_ context.Context, _ time.Duration, _ int64) ([]queue.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.claimed
	m.claimed = nil
	return out, nil
}

func (m *mockConsumer) Ack(_ context.Context, msg queue.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acked = append(m.acked, msg)
	return nil
}

func (m *mockConsumer) Requeue(_ context.Context, msg queue.Message, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requeued = append(m.requeued, settled{msg: msg, errMsg: errMsg})
	return nil
}

func (m *mockConsumer) SendDLQ(_ context.Context, msg queue.Message, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dlq = append(m.dlq, settled{msg: msg, errMsg: errMsg})
	return nil
}

func (m *mockConsumer) ackedIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, len(m.acked))
	for i, msg := range m.acked {
		ids[i] = msg.ID
	}
	return ids
}

type mockHandler struct {
	mu       sync.Mutex
	handleFn func(ctx context.Context, ev model.InboundEvent) error
	handled  []string
}

func (m *mockHandler) HandleEvent(ctx context.Context, ev model.InboundEvent) error {
	m.mu.Lock()
	m.handled = append(m.handled, ev.ID)
	m.mu.Unlock()
	if m.handleFn != nil {
		return m.handleFn(ctx, ev)
	}
	return nil
}
