package obsws

import (
	"io"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

type fakeOBS struct {
	calls    []string
	failStop bool
	delay    time.Duration
}

func (f *fakeOBS) SetScene(name string) error {
	time.Sleep(f.delay)
	f.calls = append(f.calls, "scene:"+name)
	return nil
}

func (f *fakeOBS) StartRecord() error {
	f.calls = append(f.calls, "start")
	return nil
}

func (f *fakeOBS) StopRecord() (string, error) {
	if f.failStop {
		return "", errors.New("not recording")
	}
	f.calls = append(f.calls, "stop")
	return "/tmp/take.mkv", nil
}

func (f *fakeOBS) Disconnect() error {
	f.calls = append(f.calls, "disconnect")
	return nil
}

func quiet() *logrus.Logger {
	lg := logrus.New()
	lg.SetOutput(io.Discard)
	return lg
}

func TestSessionBeginEnd(t *testing.T) {
	f := &fakeOBS{}
	s := newSession(Options{Scene: "演奏", Record: true, Log: quiet()}, f)
	if err := s.Begin(); err != nil {
		t.Fatal(err)
	}
	if err := s.End(); err != nil {
		t.Fatal(err)
	}
	want := []string{"scene:演奏", "start", "stop", "disconnect"}
	if len(f.calls) != len(want) {
		t.Fatalf("calls=%v", f.calls)
	}
	for i := range want {
		if f.calls[i] != want[i] {
			t.Fatalf("calls=%v; want %v", f.calls, want)
		}
	}
}

func TestSessionWithoutRecordOnlyDisconnects(t *testing.T) {
	f := &fakeOBS{}
	s := newSession(Options{Log: quiet()}, f)
	_ = s.Begin()
	_ = s.End()
	if len(f.calls) != 1 || f.calls[0] != "disconnect" {
		t.Fatalf("calls=%v", f.calls)
	}
}

func TestSessionStopFailureStillDisconnects(t *testing.T) {
	f := &fakeOBS{failStop: true}
	s := newSession(Options{Record: true, Log: quiet()}, f)
	_ = s.Begin()
	if err := s.End(); err == nil {
		t.Fatal("stop failure swallowed")
	}
	if f.calls[len(f.calls)-1] != "disconnect" {
		t.Fatalf("calls=%v", f.calls)
	}
}

func TestSessionTimeout(t *testing.T) {
	f := &fakeOBS{delay: 100 * time.Millisecond}
	s := newSession(Options{Scene: "x", Timeout: 10 * time.Millisecond, Log: quiet()}, f)
	if err := s.Begin(); err == nil {
		t.Fatal("expected timeout")
	}
}

func TestWithTimeout(t *testing.T) {
	// Should succeed before timeout
	err := withTimeout(func() error { return nil }, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Should time out
	start := time.Now()
	err = withTimeout(func() error {
		time.Sleep(50 * time.Millisecond)
		return nil
	}, 10*time.Millisecond)
	if err == nil {
		t.Fatalf("expected timeout error")
	}
	if time.Since(start) > 200*time.Millisecond {
		t.Fatalf("withTimeout took too long")
	}

	// Propagate error
	want := errors.New("boom")
	if got := withTimeout(func() error { return want }, 10*time.Millisecond); got != want {
		t.Fatalf("expected error to propagate, got %v", got)
	}
}
