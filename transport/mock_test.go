// Copyright 2026 The Flip-Disc Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/Garrettjson/flip-disc/lib/clock"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openMock(t *testing.T) *Mock {
	t.Helper()
	mock := NewMock(clock.Fake(time.Unix(0, 0)), discardLogger())
	if err := mock.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	return mock
}

func TestMockRecordsWrites(t *testing.T) {
	mock := openMock(t)

	if err := mock.WriteAll(context.Background(), []byte{1, 2, 3}); err != nil {
		t.Fatalf("WriteAll: %v", err)
	}
	if err := mock.WriteAll(context.Background(), []byte{4}); err != nil {
		t.Fatalf("WriteAll: %v", err)
	}

	writes := mock.Writes()
	if len(writes) != 2 || !bytes.Equal(writes[0], []byte{1, 2, 3}) || !bytes.Equal(writes[1], []byte{4}) {
		t.Errorf("writes = %v", writes)
	}
}

func TestMockClosedRejectsWrites(t *testing.T) {
	mock := NewMock(clock.Fake(time.Unix(0, 0)), discardLogger())
	if err := mock.WriteAll(context.Background(), []byte{1}); !errors.Is(err, ErrClosed) {
		t.Errorf("WriteAll on closed mock = %v, want ErrClosed", err)
	}
}

func TestMockScriptedFailures(t *testing.T) {
	mock := openMock(t)

	transient := errors.New("line noise")
	fatal := errors.New("adapter gone")
	mock.FailNext(transient, false)
	mock.FailNext(fatal, true)

	if err := mock.WriteAll(context.Background(), []byte{1}); !errors.Is(err, transient) {
		t.Fatalf("first write = %v, want scripted transient", err)
	}
	if mock.IsPermanent(transient) {
		t.Error("transient error classified permanent")
	}

	if err := mock.WriteAll(context.Background(), []byte{1}); !errors.Is(err, fatal) {
		t.Fatalf("second write = %v, want scripted permanent", err)
	}
	if !mock.IsPermanent(fatal) {
		t.Error("permanent error classified transient")
	}

	// Scripted errors consumed; writes succeed again.
	if err := mock.WriteAll(context.Background(), []byte{1}); err != nil {
		t.Errorf("third write = %v, want nil", err)
	}
}

func TestMockResetClearsFailures(t *testing.T) {
	mock := openMock(t)
	mock.FailNext(errors.New("boom"), true)
	if err := mock.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if err := mock.WriteAll(context.Background(), []byte{1}); err != nil {
		t.Errorf("write after Reset = %v", err)
	}
}

func TestMockSleepHonorsCancellation(t *testing.T) {
	// With a fake clock that never advances, only cancellation can
	// release the sleep.
	mock := NewMock(clock.Fake(time.Unix(0, 0)), discardLogger())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		mock.Sleep(ctx, time.Hour)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Sleep did not return on cancellation")
	}
}

func TestMockNotify(t *testing.T) {
	mock := openMock(t)
	if err := mock.WriteAll(context.Background(), []byte{9}); err != nil {
		t.Fatalf("WriteAll: %v", err)
	}
	select {
	case written := <-mock.Notify():
		if !bytes.Equal(written, []byte{9}) {
			t.Errorf("notified write = %v", written)
		}
	default:
		t.Fatal("no notification for completed write")
	}
}
