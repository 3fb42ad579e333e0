// Package apierror maps gateway errors onto the canonical HTTP error envelope.
package apierror

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/vango-go/vai-callgate/pkg/core"
	"github.com/vango-go/vai-callgate/pkg/gateway/ivr"
)

type Envelope struct {
	Error *core.Error `json:"error"`
}

func FromError(err error, requestID string) (*core.Error, int) {
	if err == nil {
		return nil, http.StatusOK
	}

	// Context timeouts/cancellation.
	if errors.Is(err, context.DeadlineExceeded) {
		return &core.Error{
			Type:      core.ErrTimeout,
			Message:   "request timeout",
			RequestID: requestID,
		}, http.StatusGatewayTimeout
	}
	if errors.Is(err, context.Canceled) {
		return &core.Error{
			Type:      core.ErrAPI,
			Message:   "request cancelled",
			Code:      "cancelled",
			RequestID: requestID,
		}, http.StatusRequestTimeout
	}

	// Already canonical.
	var coreErr *core.Error
	if errors.As(err, &coreErr) && coreErr != nil {
		out := *coreErr
		out.RequestID = requestID
		return &out, statusFromType(coreErr.Type)
	}

	switch {
	case errors.Is(err, ivr.ErrMalformedPacket):
		return &core.Error{
			Type:      core.ErrInvalidRequest,
			Message:   strings.TrimPrefix(err.Error(), ivr.ErrMalformedPacket.Error()+": "),
			Code:      "malformed_packet",
			RequestID: requestID,
		}, http.StatusBadRequest
	case errors.Is(err, ivr.ErrQueueFull):
		e := core.NewRateLimitError("too many turns queued for this call", 1)
		e.Code = "call_queue_full"
		e.RequestID = requestID
		return e, http.StatusTooManyRequests
	case errors.Is(err, ivr.ErrDispatcherClosed):
		return &core.Error{
			Type:      core.ErrOverloaded,
			Message:   "gateway is draining",
			Code:      "draining",
			RequestID: requestID,
		}, 529
	}

	// Unknown errors: treat as internal API error (do not leak details by default).
	return &core.Error{
		Type:      core.ErrAPI,
		Message:   "internal error",
		RequestID: requestID,
	}, http.StatusInternalServerError
}

func statusFromType(t core.ErrorType) int {
	switch t {
	case core.ErrInvalidRequest:
		return http.StatusBadRequest
	case core.ErrAuthentication:
		return http.StatusUnauthorized
	case core.ErrNotFound:
		return http.StatusNotFound
	case core.ErrRateLimit:
		return http.StatusTooManyRequests
	case core.ErrOverloaded:
		return 529
	case core.ErrProvider, core.ErrAPI:
		return http.StatusBadGateway
	case core.ErrTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
