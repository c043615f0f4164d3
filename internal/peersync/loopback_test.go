package peersync

import (
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestFileStore_WriterDoesNotObserveOwnWrites(t *testing.T) {
	channel := "test-" + uuid.New().String()
	writer := NewFileStore(channel, 100*time.Millisecond)
	reader := NewFileStore(channel, 100*time.Millisecond)
	t.Cleanup(writer.Close)
	t.Cleanup(reader.Close)

	var atWriter, atReader [][]byte
	writer.Subscribe(func(data []byte) { atWriter = append(atWriter, data) })
	done := make(chan struct{}, 1)
	reader.Subscribe(func(data []byte) {
		atReader = append(atReader, data)
		done <- struct{}{}
	})

	writer.Publish([]byte(`{"domain":"order"}`))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Reader never observed the slot write")
	}

	if string(atReader[0]) != `{"domain":"order"}` {
		t.Errorf("Payload mangled: %s", atReader[0])
	}
	if len(atWriter) != 0 {
		t.Error("The writing context must not observe its own write")
	}
}

func TestFileStore_SlotClearedAfterDelay(t *testing.T) {
	channel := "test-" + uuid.New().String()
	s := NewFileStore(channel, 50*time.Millisecond)
	t.Cleanup(s.Close)

	s.Publish([]byte(`{}`))

	if _, err := os.Stat(s.path); err != nil {
		t.Fatalf("Slot file should exist right after publish: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(s.path); os.IsNotExist(err) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("Slot file was never cleared")
}

func TestMemoryStore_FanOutAndUnsubscribe(t *testing.T) {
	s := NewMemoryStore()

	var a, b [][]byte
	unsubA := s.Subscribe(func(data []byte) { a = append(a, data) })
	s.Subscribe(func(data []byte) { b = append(b, data) })

	s.Publish([]byte("one"))
	if len(a) != 1 || len(b) != 1 {
		t.Fatalf("Expected delivery to both, got a=%d b=%d", len(a), len(b))
	}

	unsubA()
	s.Publish([]byte("two"))
	if len(a) != 1 {
		t.Error("Unsubscribed observer must not receive")
	}
	if len(b) != 2 {
		t.Errorf("Remaining observer should receive, got %d", len(b))
	}
}
