package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rollcall/internal/attendance"
)

func TestDeserialize(t *testing.T) {
	msg := deserialize(serialize(Message{Type: "code.issued", Body: []byte(`{"a":"b|c"}`)}))
	assert.Equal(t, "code.issued", msg.Type)
	assert.Equal(t, `{"a":"b|c"}`, string(msg.Body))

	msg = deserialize("no separator")
	assert.Empty(t, msg.Type)
	assert.Equal(t, "no separator", string(msg.Body))
}

func TestInMemoryRoundTrip(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewInMemory(4)
	require.NoError(t, q.Publish(ctx, Message{Type: "x", Body: []byte("1")}))

	msgs, err := q.Consume(ctx)
	require.NoError(t, err)
	select {
	case msg := <-msgs:
		assert.Equal(t, "x", msg.Type)
	case <-time.After(time.Second):
		t.Fatal("no message")
	}

	cancel()
	for range msgs {
	}
}

func TestRedisQueueRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewRedisQueue(client, "")
	require.NoError(t, q.Publish(ctx, Message{Type: "attendance.marked", Body: []byte(`{}`)}))
	require.NoError(t, q.Publish(ctx, Message{Type: "code.issued", Body: []byte(`{}`)}))

	msgs, err := q.Consume(ctx)
	require.NoError(t, err)

	var got []string
	for len(got) < 2 {
		select {
		case msg := <-msgs:
			got = append(got, msg.Type)
		case <-time.After(2 * time.Second):
			t.Fatalf("got %v before timeout", got)
		}
	}
	// LPUSH + BRPOP is FIFO
	assert.Equal(t, []string{"attendance.marked", "code.issued"}, got)
}

func TestAuditSink(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewInMemory(8)
	pub := NewPublisher(q)
	at := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, pub.Notify(ctx, attendance.AuditEntry{
		Kind:       attendance.AuditCodeIssued,
		ClassID:    "class-1",
		ActorID:    "teacher-1",
		Detail:     map[string]string{"code": "Q7XK2P", "superseded": "AAAAAA"},
		OccurredAt: at,
	}))
	require.NoError(t, q.Publish(ctx, Message{Type: "junk", Body: []byte("{")}))

	store := attendance.NewMemoryStore()
	msgs, err := q.Consume(ctx)
	require.NoError(t, err)
	done := make(chan struct{})
	go func() {
		RunAuditSink(ctx, msgs, store)
		close(done)
	}()

	require.Eventually(t, func() bool { return len(store.Audit()) == 1 }, time.Second, 10*time.Millisecond)
	cancel()
	<-done

	e := store.Audit()[0]
	assert.Equal(t, attendance.AuditCodeIssued, e.Kind)
	assert.Equal(t, "AAAAAA", e.Detail["superseded"])
	assert.True(t, at.Equal(e.OccurredAt))
}
