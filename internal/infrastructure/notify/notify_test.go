package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"commissions-backend/internal/application/notifications"
	"commissions-backend/internal/domain"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memWriter struct {
	msgs   []kafka.Message
	closed bool
}

func (m *memWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	m.msgs = append(m.msgs, msgs...)
	return nil
}

func (m *memWriter) Close() error {
	m.closed = true
	return nil
}

func sampleEvent() notifications.StatusChanged {
	return notifications.StatusChanged{
		ProjectID: uuid.New(),
		OldStatus: domain.StatusForReview,
		NewStatus: domain.StatusApproved,
		Event:     "approve",
		Timestamp: time.Now(),
	}
}

func TestKafkaSink_KeysByProject(t *testing.T) {
	w := &memWriter{}
	s := &KafkaSink{Writer: w, Topic: "t"}
	ev := sampleEvent()
	require.NoError(t, s.Send(context.Background(), ev))

	require.Len(t, w.msgs, 1)
	assert.Equal(t, "t", w.msgs[0].Topic)
	assert.Equal(t, ev.ProjectID.String(), string(w.msgs[0].Key))

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &got))
	assert.Equal(t, "for_review", got["old_status"])
	assert.Equal(t, "approved", got["new_status"])

	require.NoError(t, s.Close())
	assert.True(t, w.closed)
}

func TestNewKafkaSink_RequiresBrokers(t *testing.T) {
	_, err := NewKafkaSink(nil, "")
	assert.Error(t, err)

	s, err := NewKafkaSink([]string{"localhost:9092"}, "")
	require.NoError(t, err)
	assert.Equal(t, DefaultTopic, s.Topic)
}

func TestRedisSink_Publishes(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	sub := rdb.Subscribe(context.Background(), "status")
	defer sub.Close()
	_, err := sub.Receive(context.Background())
	require.NoError(t, err)

	s := &RedisSink{Rdb: rdb, Channel: "status"}
	ev := sampleEvent()
	require.NoError(t, s.Send(context.Background(), ev))

	select {
	case msg := <-sub.Channel():
		assert.Contains(t, msg.Payload, ev.ProjectID.String())
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}
}
