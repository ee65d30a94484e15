package errorsx

import (
	"errors"
	"testing"
)

func TestWrapAndReason(t *testing.T) {
	err := Wrap(assertErr{}, ReasonSTTConnect)
	if Reason(err) != ReasonSTTConnect {
		t.Fatalf("expected reason %s, got %s", ReasonSTTConnect, Reason(err))
	}
	if !HasReason(err, ReasonSTTConnect) {
		t.Fatalf("expected HasReason true")
	}
}

func TestWrapPreservesExistingReason(t *testing.T) {
	first := Wrap(assertErr{}, ReasonSTTSend)
	second := Wrap(first, ReasonSTTClosed)
	if Reason(second) != ReasonSTTSend {
		t.Fatalf("expected reason preserved, got %s", Reason(second))
	}
}

func TestWrapKeepsErrorsIs(t *testing.T) {
	sentinel := errors.New("queue full")
	err := Wrap(sentinel, ReasonQueueFull)
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected wrapped error to match sentinel")
	}
	if Wrap(nil, ReasonQueueFull) != nil {
		t.Fatalf("expected nil passthrough")
	}
	if Reason(nil) != ReasonUnknown {
		t.Fatalf("expected unknown reason for nil")
	}
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }

func TestWrapfAndTransient(t *testing.T) {
	err := Wrapf(ReasonConfigInvalid, "sink.provider %q is not supported", "kafka")
	if err.Error() != `sink.provider "kafka" is not supported` {
		t.Fatalf("unexpected message %q", err.Error())
	}
	if IsTransient(err) {
		t.Fatalf("config errors are not transient")
	}
	if !IsTransient(Wrap(assertErr{}, ReasonSTTConnect)) || !IsTransient(Wrap(assertErr{}, ReasonQueueFull)) {
		t.Fatalf("connect and queue errors are transient")
	}
	if IsTransient(assertErr{}) {
		t.Fatalf("unreasoned errors are not transient")
	}
}
