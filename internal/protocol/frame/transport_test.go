package frame

import (
	"errors"
	"net"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/rfidctl/internal/testutil/testlog"
)

func TestSplitterFragmentationInvariant(t *testing.T) {
	testlog.Start(t)
	stream := "RFModulation = HS\r\n\x00\x00Tag List has been cleared!\r\n\x00partial"
	whole := NewSplitter(0)
	whole.Feed([]byte(stream))
	want, err := whole.Split("\x00")
	if err != nil {
		t.Fatalf("split whole: %v", err)
	}

	for size := 1; size <= 7; size++ {
		s := NewSplitter(0)
		var got []string
		for i := 0; i < len(stream); i += size {
			end := i + size
			if end > len(stream) {
				end = len(stream)
			}
			s.Feed([]byte(stream[i:end]))
			msgs, err := s.Split("\x00")
			if err != nil {
				t.Fatalf("split size=%d: %v", size, err)
			}
			got = append(got, msgs...)
		}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("size=%d got=%q want=%q", size, got, want)
		}
		if s.Buffered() != len("partial") {
			t.Fatalf("size=%d unexpected buffered=%d", size, s.Buffered())
		}
	}
	if len(want) != 3 || want[1] != "" {
		t.Fatalf("unexpected messages: %q", want)
	}
}

func TestSplitterAnyTerminatorEndsMessage(t *testing.T) {
	testlog.Start(t)
	s := NewSplitter(0)
	s.Feed([]byte("E200\r\nE201\x00"))
	got, err := s.Split("\r\n\x00")
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	want := []string{"E200", "", "E201"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got=%q want=%q", got, want)
	}
}

func TestSplitterPendingLimit(t *testing.T) {
	testlog.Start(t)
	s := NewSplitter(8)
	s.Feed([]byte("0123456789"))
	if _, err := s.Split("\x00"); !errors.Is(err, ErrMessageTooLarge) {
		t.Fatalf("expected ErrMessageTooLarge, got %v", err)
	}
}

func TestTransportPendingLimitDropsConnection(t *testing.T) {
	testlog.Start(t)
	client, server := net.Pipe()
	defer server.Close()

	tr, err := New(client, time.Second, WithPendingLimit(4))
	if err != nil {
		t.Fatalf("new transport: %v", err)
	}
	defer tr.Close()

	go func() { _, _ = server.Write([]byte("0123456789")) }()

	_, err = tr.Receive("\x00")
	if !errors.Is(err, ErrConnectionLost) || !errors.Is(err, ErrMessageTooLarge) {
		t.Fatalf("expected connection lost on oversized message, got %v", err)
	}
	if tr.Connected() {
		t.Fatalf("transport still connected after overrun")
	}
}

func TestTransportReassemblesSplitMessage(t *testing.T) {
	testlog.Start(t)
	client, server := net.Pipe()
	defer server.Close()

	tr, err := New(client, time.Second)
	if err != nil {
		t.Fatalf("new transport: %v", err)
	}
	defer tr.Close()

	go func() {
		for _, c := range []byte("Alien>Username>") {
			_, _ = server.Write([]byte{c})
		}
	}()

	var got []string
	for len(got) < 2 {
		msgs, err := tr.Receive(">")
		if err != nil {
			t.Fatalf("receive: %v", err)
		}
		got = append(got, msgs...)
	}
	if !reflect.DeepEqual(got, []string{"Alien", "Username"}) {
		t.Fatalf("unexpected messages: %q", got)
	}
}

func TestTransportReturnsBufferedBeforeReading(t *testing.T) {
	testlog.Start(t)
	client, server := net.Pipe()
	defer server.Close()

	tr, err := New(client, 200*time.Millisecond)
	if err != nil {
		t.Fatalf("new transport: %v", err)
	}
	defer tr.Close()

	go func() { _, _ = server.Write([]byte("Username>\x00")) }()

	msgs, err := tr.Receive(">")
	if err != nil {
		t.Fatalf("receive welcome: %v", err)
	}
	if len(msgs) != 1 || msgs[0] != "Username" {
		t.Fatalf("unexpected welcome: %q", msgs)
	}
	msgs, err = tr.Receive("\x00")
	if err != nil {
		t.Fatalf("receive buffered ack: %v", err)
	}
	if len(msgs) != 1 || msgs[0] != "" {
		t.Fatalf("unexpected ack: %q", msgs)
	}
}

func TestTransportReceiveTimeoutForcesClose(t *testing.T) {
	testlog.Start(t)
	client, server := net.Pipe()
	defer server.Close()

	timeout := 60 * time.Millisecond
	tr, err := New(client, timeout)
	if err != nil {
		t.Fatalf("new transport: %v", err)
	}

	start := time.Now()
	_, err = tr.Receive("\x00")
	elapsed := time.Since(start)
	if !errors.Is(err, ErrConnectionLost) {
		t.Fatalf("expected ErrConnectionLost, got %v", err)
	}
	if tr.Connected() {
		t.Fatalf("transport should be closed after timeout")
	}
	if elapsed < timeout || elapsed > timeout+500*time.Millisecond {
		t.Fatalf("unexpected elapsed=%s", elapsed)
	}
	if err := tr.Send("late"); !errors.Is(err, ErrConnectionLost) {
		t.Fatalf("expected send on closed transport to fail, got %v", err)
	}
}

func TestTransportPeerCloseIsConnectionLost(t *testing.T) {
	testlog.Start(t)
	client, server := net.Pipe()
	tr, err := New(client, time.Second)
	if err != nil {
		t.Fatalf("new transport: %v", err)
	}
	_ = server.Close()

	if _, err := tr.Receive("\x00"); !errors.Is(err, ErrConnectionLost) {
		t.Fatalf("expected ErrConnectionLost, got %v", err)
	}
	if tr.Connected() {
		t.Fatalf("expected disconnected transport")
	}
}

func TestTransportSendWriteTimeout(t *testing.T) {
	testlog.Start(t)
	client, server := net.Pipe()
	defer server.Close()

	tr, err := New(client, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("new transport: %v", err)
	}
	// nobody reads the pipe, so the write blocks until the deadline
	if err := tr.Send(strings.Repeat("x", 64)); !errors.Is(err, ErrConnectionLost) {
		t.Fatalf("expected ErrConnectionLost, got %v", err)
	}
	if tr.Connected() {
		t.Fatalf("expected disconnected transport")
	}
}

func TestTransportCloseIdempotentAndUnblocksReader(t *testing.T) {
	testlog.Start(t)
	client, server := net.Pipe()
	defer server.Close()

	tr, err := New(client, 0)
	if err != nil {
		t.Fatalf("new transport: %v", err)
	}
	done := make(chan error, 1)
	go func() {
		_, err := tr.Receive("\x00")
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	_ = tr.Close()
	_ = tr.Close()

	select {
	case err := <-done:
		if !errors.Is(err, ErrConnectionLost) {
			t.Fatalf("expected ErrConnectionLost, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("close did not unblock receive")
	}
}

func TestNewRejectsNilConn(t *testing.T) {
	testlog.Start(t)
	if _, err := New(nil, time.Second); !errors.Is(err, ErrNilConn) {
		t.Fatalf("expected ErrNilConn, got %v", err)
	}
}
