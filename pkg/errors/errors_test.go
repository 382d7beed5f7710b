package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{NewValidation("bad", nil), http.StatusBadRequest},
		{NewNotFound("order", 1), http.StatusNotFound},
		{NewPaymentReferenceAlreadySet("paid"), http.StatusConflict},
		{NewConcurrentModification("raced", nil), http.StatusConflict},
		{NewInvalidTransition("no", nil), http.StatusUnprocessableEntity},
		{NewGatewayRejected("cash only", nil), http.StatusUnprocessableEntity},
		{NewGatewayUnavailable("timeout", nil), http.StatusServiceUnavailable},
		{NewUnauthorized("who"), http.StatusUnauthorized},
		{NewForbidden("no"), http.StatusForbidden},
		{fmt.Errorf("plain"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(CodeOf(tt.err), func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}

func TestGRPCStatusRoundTrip(t *testing.T) {
	codesToCheck := []string{
		CodeValidation, CodeNotFound, CodeConcurrentModification, CodeInvalidTransition,
		CodeGatewayUnavailable, CodeUnauthorized, CodeForbidden,
	}

	for _, code := range codesToCheck {
		t.Run(code, func(t *testing.T) {
			err := GRPCStatus(&AppError{Code: code, Message: "m"})
			back := FromGRPCStatus(err)
			assert.Equal(t, code, back.Code)
			assert.Equal(t, "m", back.Message)
		})
	}

	st, _ := status.FromError(GRPCStatus(fmt.Errorf("plain")))
	assert.Equal(t, codes.Internal, st.Code())
}

func TestToJSON_MarksRetryable(t *testing.T) {
	code, body := ToJSON(NewGatewayUnavailable("stripe timed out", nil), "trace-1")

	require.Equal(t, http.StatusServiceUnavailable, code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(body, &resp))
	assert.Equal(t, CodeGatewayUnavailable, resp.Error.Code)
	assert.True(t, resp.Error.Retryable)
	assert.Equal(t, "trace-1", resp.TraceID)
}

func TestToJSON_HidesUnknownErrors(t *testing.T) {
	_, body := ToJSON(fmt.Errorf("pq: password authentication failed"), "")

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(body, &resp))
	assert.Equal(t, CodeInternal, resp.Error.Code)
	assert.NotContains(t, resp.Error.Message, "password")
}

func TestWrapKeepsCode(t *testing.T) {
	err := Wrap(NewNotFound("booking", 7), "failed to load")

	assert.True(t, Is(err, CodeNotFound))
	assert.Contains(t, err.Error(), "failed to load")
	assert.Equal(t, CodeInternal, CodeOf(Wrap(fmt.Errorf("boom"), "x")))
	assert.False(t, IsRetryable(NewForbidden("no")))
	assert.True(t, IsRetryable(Wrap(NewConcurrentModification("raced", nil), "retry")))
}
