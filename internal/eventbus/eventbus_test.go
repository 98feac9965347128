package eventbus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func recvWithin(t *testing.T, sub *Subscription, d time.Duration) (Message, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return sub.Recv(ctx)
}

func TestBus_PublishOrder(t *testing.T) {
	bus := New(16)
	a := bus.Subscribe()
	b := bus.Subscribe()

	for i := 0; i < 5; i++ {
		if err := bus.Publish(NewMessage(SeverityInfo, fmt.Sprintf("msg-%d", i))); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	for _, sub := range []*Subscription{a, b} {
		for i := 0; i < 5; i++ {
			msg, err := recvWithin(t, sub, time.Second)
			if err != nil {
				t.Fatalf("recv %d: %v", i, err)
			}
			if want := fmt.Sprintf("msg-%d", i); msg.Text != want {
				t.Errorf("got %q, want %q", msg.Text, want)
			}
			if msg.What != CategoryLog {
				t.Errorf("expected category %q, got %q", CategoryLog, msg.What)
			}
		}
	}
}

func TestBus_PublishWithoutSubscribers(t *testing.T) {
	bus := New(4)
	if err := bus.Publish(NewMessage(SeverityInfo, "nobody listening")); err != nil {
		t.Errorf("expected silent no-op, got %v", err)
	}
}

func TestBus_NoReplayForLateSubscriber(t *testing.T) {
	bus := New(8)
	early := bus.Subscribe()

	bus.Publish(NewMessage(SeverityInfo, "first"))
	late := bus.Subscribe()
	bus.Publish(NewMessage(SeverityInfo, "second"))

	msg, err := recvWithin(t, late, time.Second)
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	if msg.Text != "second" {
		t.Errorf("late subscriber got %q, want %q", msg.Text, "second")
	}

	msg, _ = recvWithin(t, early, time.Second)
	if msg.Text != "first" {
		t.Errorf("early subscriber got %q, want %q", msg.Text, "first")
	}
}

func TestBus_LaggedSubscriberResumes(t *testing.T) {
	bus := New(3)
	sub := bus.Subscribe()

	for i := 0; i < 5; i++ {
		if err := bus.Publish(NewMessage(SeverityInfo, fmt.Sprintf("msg-%d", i))); err != nil {
			t.Fatalf("publish must not fail on a slow consumer: %v", err)
		}
	}

	_, err := recvWithin(t, sub, time.Second)
	var lagged *LaggedError
	if !errors.As(err, &lagged) {
		t.Fatalf("expected LaggedError, got %v", err)
	}
	if lagged.Skipped != 2 {
		t.Errorf("expected 2 skipped, got %d", lagged.Skipped)
	}

	for i := 2; i < 5; i++ {
		msg, err := recvWithin(t, sub, time.Second)
		if err != nil {
			t.Fatalf("recv after lag: %v", err)
		}
		if want := fmt.Sprintf("msg-%d", i); msg.Text != want {
			t.Errorf("got %q, want %q", msg.Text, want)
		}
	}

	bus.Publish(NewMessage(SeverityInfo, "after stall"))
	msg, err := recvWithin(t, sub, time.Second)
	if err != nil || msg.Text != "after stall" {
		t.Errorf("expected delivery to resume, got %q, %v", msg.Text, err)
	}
}

func TestBus_CloseUnblocksReceiver(t *testing.T) {
	bus := New(4)
	sub := bus.Subscribe()

	done := make(chan error, 1)
	go func() {
		_, err := sub.Recv(context.Background())
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	if err := bus.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	select {
	case err := <-done:
		if !errors.Is(err, ErrClosed) {
			t.Errorf("expected ErrClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("receiver still blocked after Close")
	}

	if err := bus.Publish(NewMessage(SeverityInfo, "late")); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed from Publish after Close, got %v", err)
	}
	if err := bus.Close(); err != nil {
		t.Errorf("second Close should be harmless, got %v", err)
	}
}

func TestBus_CloseDrainsBufferedFirst(t *testing.T) {
	bus := New(4)
	sub := bus.Subscribe()
	bus.Publish(NewMessage(SeveritySuccess, "buffered"))
	bus.Close()

	msg, err := recvWithin(t, sub, time.Second)
	if err != nil || msg.Text != "buffered" {
		t.Fatalf("expected buffered message, got %q, %v", msg.Text, err)
	}
	if _, err := recvWithin(t, sub, time.Second); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestBus_RecvHonoursContext(t *testing.T) {
	bus := New(4)
	sub := bus.Subscribe()

	_, err := recvWithin(t, sub, 20*time.Millisecond)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestSubscription_CloseDetaches(t *testing.T) {
	bus := New(4)
	sub := bus.Subscribe()
	if bus.Len() != 1 {
		t.Fatalf("expected 1 subscriber, got %d", bus.Len())
	}
	sub.Close()
	if bus.Len() != 0 {
		t.Errorf("expected 0 subscribers after Close, got %d", bus.Len())
	}
}

func TestBus_ConcurrentPublishers(t *testing.T) {
	bus := New(1000)
	sub := bus.Subscribe()

	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				bus.Publish(NewMessage(SeverityInfo, "x"))
			}
		}()
	}
	wg.Wait()

	for i := 0; i < 400; i++ {
		if _, err := recvWithin(t, sub, time.Second); err != nil {
			t.Fatalf("recv %d: %v", i, err)
		}
	}
}

func TestNewMessage_TimestampFormat(t *testing.T) {
	msg := NewMessage(SeverityError, "boom")
	if _, err := time.Parse(TimestampLayout, msg.Timestamp); err != nil {
		t.Errorf("timestamp %q does not match layout: %v", msg.Timestamp, err)
	}
	if len(msg.Timestamp) != len("15:04:05.000") {
		t.Errorf("expected millisecond precision, got %q", msg.Timestamp)
	}
}
