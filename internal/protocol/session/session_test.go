package session

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danmuck/rfidctl/internal/protocol/frame"
	"github.com/danmuck/rfidctl/internal/testutil/testlog"
)

func TestBackoffDelayGrowsToCap(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{
		InitialDelay: 250 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     5 * time.Second,
		Jitter:       false,
	}
	if got := cfg.Delay(1, nil); got != 250*time.Millisecond {
		t.Fatalf("attempt1 got=%v", got)
	}
	if got := cfg.Delay(2, nil); got != 500*time.Millisecond {
		t.Fatalf("attempt2 got=%v", got)
	}
	if got := cfg.Delay(3, nil); got != time.Second {
		t.Fatalf("attempt3 got=%v", got)
	}
	if got := cfg.Delay(6, nil); got != 5*time.Second {
		t.Fatalf("attempt6 got=%v", got)
	}
}

func TestFixedBackoffNeverGrows(t *testing.T) {
	testlog.Start(t)
	cfg := FixedBackoff(2 * time.Second)
	for attempt := 1; attempt <= 10; attempt++ {
		if got := cfg.Delay(attempt, nil); got != 2*time.Second {
			t.Fatalf("attempt%d got=%v", attempt, got)
		}
	}
}

func TestConfigValidate(t *testing.T) {
	testlog.Start(t)
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	cfg := Config{ConnectTimeout: time.Second, ReceiveTimeout: Unbounded}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unbounded receive should be valid: %v", err)
	}
	cfg.ReceiveTimeout = -5 * time.Second
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
	if got := (Config{}).WithDefaults(); got != DefaultConfig() {
		t.Fatalf("unexpected defaults: %+v", got)
	}
}

// echoServer answers every "\n"-terminated line with "resp:<line>\x00".
func echoServer(t *testing.T, handle func(line string) string) (string, func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer conn.Close()
				r := bufio.NewReader(conn)
				for {
					line, err := r.ReadString('\n')
					if err != nil {
						return
					}
					reply := handle(strings.TrimRight(line, "\r\n"))
					if reply == "" {
						continue
					}
					if _, err := conn.Write([]byte(reply)); err != nil {
						return
					}
				}
			}()
		}
	}()
	return ln.Addr().String(), func() {
		_ = ln.Close()
		wg.Wait()
	}
}

func testConfig() Config {
	return Config{ConnectTimeout: time.Second, ReceiveTimeout: time.Second}
}

func TestDuplexConcurrentSendReceivePairsResponses(t *testing.T) {
	testlog.Start(t)
	var inFlight atomic.Int32
	var overlap atomic.Bool
	addr, stop := echoServer(t, func(line string) string {
		if inFlight.Add(1) > 1 {
			overlap.Store(true)
		}
		defer inFlight.Add(-1)
		return "resp:" + line + "\x00"
	})
	defer stop()

	d := NewDuplex(testConfig(), "\x00")
	if err := d.Connect(context.Background(), addr, time.Second); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer d.Close()

	const n = 32
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			payload := fmt.Sprintf("cmd-%d", i)
			batch, err := d.SendReceive(payload+"\n", "")
			if err != nil {
				errs <- err
				return
			}
			if len(batch) != 1 || batch[0] != "resp:"+payload {
				errs <- fmt.Errorf("payload=%s got=%q", payload, batch)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}
	if overlap.Load() {
		t.Fatalf("server observed overlapping requests")
	}
}

func TestDuplexSequentialOrder(t *testing.T) {
	testlog.Start(t)
	addr, stop := echoServer(t, func(line string) string { return line + "\x00" })
	defer stop()

	d := NewDuplex(testConfig(), "\x00")
	if err := d.Connect(context.Background(), addr, time.Second); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer d.Close()

	for i := 0; i < 10; i++ {
		want := fmt.Sprintf("n%d", i)
		batch, err := d.SendReceive(want+"\n", "")
		if err != nil {
			t.Fatalf("send receive %d: %v", i, err)
		}
		if batch[0] != want {
			t.Fatalf("out of order: want=%s got=%q", want, batch)
		}
	}
}

func TestDuplexHookSeesEmptyBatches(t *testing.T) {
	testlog.Start(t)
	client, server := net.Pipe()
	defer server.Close()

	var mu sync.Mutex
	var sizes []int
	d := NewDuplex(testConfig(), "\x00", WithReceiveHook(func(batch []string) {
		mu.Lock()
		sizes = append(sizes, len(batch))
		mu.Unlock()
	}))
	if err := d.Attach(client); err != nil {
		t.Fatalf("attach: %v", err)
	}
	defer d.Close()

	go func() {
		_, _ = server.Write([]byte("par"))
		time.Sleep(10 * time.Millisecond)
		_, _ = server.Write([]byte("tial\x00"))
	}()
	batch, err := d.ReceiveOnly("")
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if len(batch) != 1 || batch[0] != "partial" {
		t.Fatalf("unexpected batch: %q", batch)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(sizes) != 2 || sizes[0] != 0 || sizes[1] != 1 {
		t.Fatalf("unexpected hook sizes: %v", sizes)
	}
}

func TestDuplexOneShotLifecycle(t *testing.T) {
	testlog.Start(t)
	addr, stop := echoServer(t, func(line string) string { return line + "\x00" })
	defer stop()

	d := NewDuplex(testConfig(), "\x00")
	if err := d.Connect(context.Background(), addr, time.Second); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := d.Connect(context.Background(), addr, time.Second); !errors.Is(err, ErrAlreadyConnected) {
		t.Fatalf("expected ErrAlreadyConnected, got %v", err)
	}
	client, server := net.Pipe()
	defer server.Close()
	if err := d.Attach(client); !errors.Is(err, ErrAlreadyConnected) {
		t.Fatalf("expected attach ErrAlreadyConnected, got %v", err)
	}

	var fired atomic.Int32
	if !d.OnDisconnect(func() { fired.Add(1) }) {
		t.Fatalf("expected registration on live session")
	}
	d.Close()
	d.Close()
	if fired.Load() != 1 {
		t.Fatalf("disconnect fired %d times", fired.Load())
	}
	if d.Connected() {
		t.Fatalf("closed session reports connected")
	}
	if d.OnDisconnect(func() {}) {
		t.Fatalf("registration after close should be rejected")
	}
	if _, err := d.SendReceive("x\n", ""); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}

	fresh := NewDuplex(testConfig(), "\x00")
	fresh.Close()
	if err := fresh.Connect(context.Background(), addr, time.Second); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed on connect after close, got %v", err)
	}
}

func TestDuplexNotConnected(t *testing.T) {
	testlog.Start(t)
	d := NewDuplex(testConfig(), "\x00")
	defer d.Close()
	if err := d.SendOnly("x"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestDuplexReceiveTimeoutClosesAndNotifies(t *testing.T) {
	testlog.Start(t)
	addr, stop := echoServer(t, func(string) string { return "" })
	defer stop()

	d := NewDuplex(Config{ConnectTimeout: time.Second, ReceiveTimeout: 80 * time.Millisecond}, "\x00")
	if err := d.Connect(context.Background(), addr, time.Second); err != nil {
		t.Fatalf("connect: %v", err)
	}
	disconnected := make(chan struct{})
	d.OnDisconnect(func() { close(disconnected) })

	start := time.Now()
	_, err := d.SendReceive("silence\n", "")
	if !errors.Is(err, frame.ErrConnectionLost) {
		t.Fatalf("expected ErrConnectionLost, got %v", err)
	}
	select {
	case <-disconnected:
	case <-time.After(time.Second):
		t.Fatalf("disconnect notification not fired")
	}
	if elapsed := time.Since(start); elapsed > 80*time.Millisecond+500*time.Millisecond {
		t.Fatalf("timeout took too long: %s", elapsed)
	}
	if d.Connected() {
		t.Fatalf("expected disconnected session")
	}
}

func TestDuplexDialFailureIsConnectionLost(t *testing.T) {
	testlog.Start(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	d := NewDuplex(testConfig(), "\x00")
	defer d.Close()
	if err := d.Connect(context.Background(), addr, 200*time.Millisecond); !errors.Is(err, frame.ErrConnectionLost) {
		t.Fatalf("expected ErrConnectionLost, got %v", err)
	}
}

func TestDuplexCloseFromDisconnectCallback(t *testing.T) {
	testlog.Start(t)
	client, server := net.Pipe()
	d := NewDuplex(testConfig(), "\x00")
	if err := d.Attach(client); err != nil {
		t.Fatalf("attach: %v", err)
	}
	done := make(chan struct{})
	d.OnDisconnect(func() {
		d.Close()
		close(done)
	})
	_ = server.Close()
	if _, err := d.ReceiveOnly(""); !errors.Is(err, frame.ErrConnectionLost) {
		t.Fatalf("expected ErrConnectionLost, got %v", err)
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("callback did not run")
	}
}
