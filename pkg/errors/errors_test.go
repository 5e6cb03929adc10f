package errors

import (
	stderrors "errors"
	"fmt"
	"testing"
)

func TestCallError_Error(t *testing.T) {
	err := New(CodeTimeout, "relay open timed out")
	want := "TIMEOUT: relay open timed out"
	if err.Error() != want {
		t.Errorf("Expected %q, got %q", want, err.Error())
	}
}

func TestCallError_Unwrap(t *testing.T) {
	cause := stderrors.New("dial tcp: refused")
	err := NewRelayUnavailable(cause)

	if !stderrors.Is(err, cause) {
		t.Error("Expected errors.Is to find cause in chain")
	}
}

func TestCodeOf_Wrapped(t *testing.T) {
	err := fmt.Errorf("placing call: %w", NewPeerUnavailable("responder-42"))
	if got := CodeOf(err); got != CodePeerUnavailable {
		t.Errorf("Expected PEER_UNAVAILABLE, got %s", got)
	}
}

func TestCodeOf_Unclassified(t *testing.T) {
	if got := CodeOf(stderrors.New("plain")); got != CodeUnknown {
		t.Errorf("Expected UNKNOWN, got %s", got)
	}
}

func TestIsBenign(t *testing.T) {
	if !IsBenign(NewPeerUnavailable("x")) {
		t.Error("peer-unavailable should be benign")
	}
	if IsBenign(NewConnectionError(stderrors.New("ice failed"))) {
		t.Error("connection errors are never benign")
	}
	if IsBenign(stderrors.New("plain")) {
		t.Error("unclassified errors are never benign")
	}
}
