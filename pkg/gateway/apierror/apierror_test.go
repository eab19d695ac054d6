package apierror

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/sitedesk/foreman/pkg/core"
	"github.com/sitedesk/foreman/pkg/gateway/store"
)

func TestFromErrorCanonical(t *testing.T) {
	coreErr, status := FromError(core.NewInvalidRequestError("message is required"), "req_1")
	if status != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", status)
	}
	if coreErr.Type != core.ErrInvalidRequest {
		t.Fatalf("type = %q", coreErr.Type)
	}
	if coreErr.RequestID != "req_1" {
		t.Fatalf("request id = %q, want req_1", coreErr.RequestID)
	}
}

func TestFromErrorStoreNotFound(t *testing.T) {
	coreErr, status := FromError(fmt.Errorf("end session: %w", store.ErrNotFound), "req_2")
	if status != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", status)
	}
	if coreErr.Type != core.ErrNotFound {
		t.Fatalf("type = %q", coreErr.Type)
	}
}

func TestFromErrorContext(t *testing.T) {
	if _, status := FromError(context.DeadlineExceeded, ""); status != http.StatusGatewayTimeout {
		t.Fatalf("deadline status = %d", status)
	}
	if _, status := FromError(context.Canceled, ""); status != http.StatusRequestTimeout {
		t.Fatalf("cancel status = %d", status)
	}
}

func TestFromErrorUnknownDoesNotLeak(t *testing.T) {
	coreErr, status := FromError(fmt.Errorf("pq: connection refused"), "req_3")
	if status != http.StatusInternalServerError {
		t.Fatalf("status = %d", status)
	}
	if coreErr.Message != "internal error" {
		t.Fatalf("message = %q, leaked internals", coreErr.Message)
	}
}
