package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/podushkina/sarflow/internal/task"
	kgo "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroker_FanOutAndFilter(t *testing.T) {
	b := NewBroker(8)
	all := b.Subscribe("")
	onlyA := b.Subscribe("a")

	b.Publish(Event{TaskID: "a", Kind: KindStatus, Status: task.StatusProcessing})
	b.Publish(Event{TaskID: "b", Kind: KindStatus, Status: task.StatusProcessing})
	b.Close()

	var gotAll, gotA []string
	for e := range all.C {
		gotAll = append(gotAll, e.TaskID)
		assert.False(t, e.At.IsZero())
	}
	for e := range onlyA.C {
		gotA = append(gotA, e.TaskID)
	}

	assert.Equal(t, []string{"a", "b"}, gotAll)
	assert.Equal(t, []string{"a"}, gotA)
}

func TestBroker_SlowSubscriberDrops(t *testing.T) {
	b := NewBroker(1)
	s := b.Subscribe("")

	b.Publish(Event{TaskID: "a"})
	b.Publish(Event{TaskID: "a"})
	b.Publish(Event{TaskID: "a"})

	assert.Equal(t, int64(2), s.Dropped())
	assert.Len(t, s.C, 1)
}

func TestBroker_Unsubscribe(t *testing.T) {
	b := NewBroker(4)
	s := b.Subscribe("")
	s.Unsubscribe()
	s.Unsubscribe()

	b.Publish(Event{TaskID: "a"})

	_, ok := <-s.C
	assert.False(t, ok)
}

func TestBroker_SubscribeAfterClose(t *testing.T) {
	b := NewBroker(4)
	b.Close()
	b.Close()

	_, ok := <-b.Subscribe("").C
	assert.False(t, ok)
}

type fakeWriter struct {
	mu    sync.Mutex
	msgs  []kgo.Message
	calls int
	err   error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kgo.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls++
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

type nopLogger struct{}

func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Errorf(string, ...interface{}) {}

func TestKafkaForwarder_Run(t *testing.T) {
	w := &fakeWriter{}
	f := &KafkaForwarder{writer: w, timeout: time.Second, logger: nopLogger{}}
	b := NewBroker(8)
	sub := b.Subscribe("")

	done := make(chan struct{})
	go func() {
		f.Run(context.Background(), sub)
		close(done)
	}()

	b.Publish(Event{TaskID: "t1", Kind: KindProgress, Progress: 40})
	b.Publish(Event{TaskID: "t1", Kind: KindStatus, Status: task.StatusCompleted})
	b.Close()
	<-done

	w.mu.Lock()
	defer w.mu.Unlock()
	require.Len(t, w.msgs, 2)
	assert.Equal(t, "t1", string(w.msgs[0].Key))

	var e Event
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &e))
	assert.Equal(t, 40, e.Progress)
}

func TestKafkaForwarder_WriteErrorIsNotFatal(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	f := &KafkaForwarder{writer: w, timeout: time.Second, logger: nopLogger{}}
	b := NewBroker(8)
	sub := b.Subscribe("")

	b.Publish(Event{TaskID: "t1"})
	b.Close()

	f.Run(context.Background(), sub)
	assert.Empty(t, w.msgs)
}

func TestKafkaForwarder_BatchesQueuedEvents(t *testing.T) {
	w := &fakeWriter{}
	f := &KafkaForwarder{writer: w, timeout: time.Second, logger: nopLogger{}}
	b := NewBroker(256)
	sub := b.Subscribe("")

	for i := 0; i < 150; i++ {
		b.Publish(Event{TaskID: "t1", Kind: KindProgress, Progress: i})
	}
	b.Close()

	f.Run(context.Background(), sub)

	w.mu.Lock()
	defer w.mu.Unlock()
	require.Len(t, w.msgs, 150)
	assert.Equal(t, 2, w.calls)
	assert.Zero(t, sub.Dropped())

	var last Event
	require.NoError(t, json.Unmarshal(w.msgs[149].Value, &last))
	assert.Equal(t, 149, last.Progress)
}
