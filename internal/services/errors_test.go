package services_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"avsync/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrExternalTool, "iteration", "shift", "failed", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"iteration", "shift", "failed"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapWithoutMarkerDefaultsToTransient(t *testing.T) {
	err := services.Wrap(nil, "", "", "", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient marker, got %v", err)
	}
	if !strings.Contains(err.Error(), "service failure") {
		t.Fatalf("expected fallback detail, got %q", err.Error())
	}
}

func TestKindOfMapping(t *testing.T) {
	tests := []struct {
		err  error
		want services.Kind
	}{
		{services.Wrap(services.ErrNoVideoStream, "prepare", "probe video", "", nil), services.KindNoVideoStream},
		{services.Wrap(services.ErrNoAudioStream, "prepare", "probe audio", "", nil), services.KindNoAudioStream},
		{services.Wrap(services.ErrFPSUnavailable, "prepare", "probe video", "", nil), services.KindFPSUnavailable},
		{services.Wrap(services.ErrPipelineFailure, "iteration", "shift", "missing output", nil), services.KindPipelineFailure},
		{services.Wrap(services.ErrExternalTool, "detection", "run detector", "", errors.New("exit 1")), services.KindPipelineFailure},
		{services.Wrap(services.ErrTimeout, "detection", "run pipeline", "", nil), services.KindPipelineFailure},
		{fmt.Errorf("finalize: %w", services.ErrVerificationFailed), services.KindVerificationFailed},
		{errors.New("disk on fire"), services.KindGeneric},
		{nil, services.KindGeneric},
	}
	for _, tc := range tests {
		if got := services.KindOf(tc.err); got != tc.want {
			t.Fatalf("KindOf(%v) = %s, want %s", tc.err, got, tc.want)
		}
	}
}

func TestKindPrecondition(t *testing.T) {
	for _, kind := range []services.Kind{services.KindNoAudioStream, services.KindNoVideoStream, services.KindFPSUnavailable} {
		if !kind.Precondition() {
			t.Fatalf("expected %s to be a precondition failure", kind)
		}
	}
	for _, kind := range []services.Kind{services.KindPipelineFailure, services.KindVerificationFailed, services.KindGeneric} {
		if kind.Precondition() {
			t.Fatalf("expected %s not to be a precondition failure", kind)
		}
	}
}
