package bridge

import (
	"context"
	"errors"
	"testing"
)

func TestRunBringUp_RetriesTransportThenInstalls(t *testing.T) {
	t.Parallel()

	up := &fakeUpstream{activateErrs: []error{
		errors.New("dial tcp: refused"),
		errors.New("dial tcp: refused"),
	}}

	installs := 0
	err := RunBringUp(context.Background(), testLogger(), up, fastPolicy(0), func() {
		installs++
	})
	if err != nil {
		t.Fatalf("RunBringUp: %v", err)
	}
	if installs != 1 {
		t.Fatalf("installs=%d want 1", installs)
	}
	if up.activates != 3 {
		t.Fatalf("activate attempts=%d want 3", up.activates)
	}
}

func TestRunBringUp_AbortsOnProtocolRejection(t *testing.T) {
	t.Parallel()

	up := &fakeUpstream{activateErrs: []error{
		&RPCError{Code: "unauthorized", Message: "bad credentials"},
	}}

	installed := false
	err := RunBringUp(context.Background(), testLogger(), up, fastPolicy(0), func() {
		installed = true
	})

	var rpc *RPCError
	if !errors.As(err, &rpc) {
		t.Fatalf("err=%v want *RPCError", err)
	}
	if installed {
		t.Fatalf("install must not run after rejection")
	}
	if up.activates != 1 {
		t.Fatalf("activate attempts=%d want 1 (no retry)", up.activates)
	}
}

func TestRunBringUp_StopsOnCancel(t *testing.T) {
	t.Parallel()

	up := &fakeUpstream{activateErrs: []error{
		errors.New("dial tcp: refused"),
		errors.New("dial tcp: refused"),
		errors.New("dial tcp: refused"),
	}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := RunBringUp(ctx, testLogger(), up, fastPolicy(0), func() {
		t.Fatalf("install must not run after cancellation")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v want context.Canceled", err)
	}
}
