package apierror

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/vango-go/vai-callgate/pkg/core"
	"github.com/vango-go/vai-callgate/pkg/gateway/ivr"
)

func TestFromError_ContextCanceled_Is408Cancelled(t *testing.T) {
	ce, status := FromError(context.Canceled, "req_test")
	if status != 408 {
		t.Fatalf("status=%d", status)
	}
	if ce.Type != core.ErrAPI {
		t.Fatalf("type=%q", ce.Type)
	}
	if ce.Code != "cancelled" {
		t.Fatalf("code=%q", ce.Code)
	}
	if ce.RequestID != "req_test" {
		t.Fatalf("request_id=%q", ce.RequestID)
	}
}

func TestFromError_Overloaded_Is529(t *testing.T) {
	ce, status := FromError(&core.Error{Type: core.ErrOverloaded, Message: "overloaded"}, "req_test")
	if status != 529 {
		t.Fatalf("status=%d", status)
	}
	if ce.Type != core.ErrOverloaded {
		t.Fatalf("type=%q", ce.Type)
	}
}

func TestFromError_GatewaySentinels(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"malformed", fmt.Errorf("%w: seq is required", ivr.ErrMalformedPacket), 400, "malformed_packet"},
		{"queue full", fmt.Errorf("submit: %w", ivr.ErrQueueFull), 429, "call_queue_full"},
		{"draining", ivr.ErrDispatcherClosed, 529, "draining"},
		{"deadline", fmt.Errorf("turn: %w", context.DeadlineExceeded), 504, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ce, status := FromError(tc.err, "req_1")
			if status != tc.status || ce.Code != tc.code {
				t.Fatalf("got status=%d code=%q, want %d %q", status, ce.Code, tc.status, tc.code)
			}
		})
	}

	ce, _ := FromError(fmt.Errorf("%w: seq is required", ivr.ErrMalformedPacket), "req_1")
	if ce.Message != "seq is required" {
		t.Fatalf("message=%q", ce.Message)
	}
}

func TestFromError_UnknownDoesNotLeak(t *testing.T) {
	ce, status := FromError(errors.New("pq: password authentication failed for user callgate"), "req_1")
	if status != 500 || ce.Message != "internal error" {
		t.Fatalf("status=%d message=%q", status, ce.Message)
	}
}
