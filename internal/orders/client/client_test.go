package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-fulfillment/internal/orders/domain"
	"go-fulfillment/pkg/errors"
	"go-fulfillment/pkg/middleware"
)

func TestStatusClient_Status(t *testing.T) {
	// Arrange
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/bookings/7/status", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.NotEmpty(t, r.Header.Get(middleware.TraceIDHeader))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"kind":"rejected","reason":"chef unavailable","label":"Rejected","terminal":true},"trace_id":"t"}`))
	}))
	defer srv.Close()
	c := New(srv.URL+"/", "tok", time.Second)

	// Act
	status, err := c.Status(context.Background(), domain.Ref{Entity: domain.EntityBooking, ID: 7})

	// Assert
	require.NoError(t, err)
	assert.Equal(t, domain.KindRejected, status.Kind())
	assert.Equal(t, "chef unavailable", status.Reason())
}

func TestStatusClient_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"error envelope keeps its code", http.StatusForbidden, `{"error":{"code":"FORBIDDEN","message":"no"}}`, errors.CodeForbidden},
		{"bare 404", http.StatusNotFound, `not found`, errors.CodeNotFound},
		{"bare 401", http.StatusUnauthorized, ``, errors.CodeUnauthorized},
		{"bare 502", http.StatusBadGateway, `<html>`, errors.CodeInternal},
		{"unknown status kind", http.StatusOK, `{"data":{"kind":"lost"}}`, errors.CodeValidation},
		{"malformed body", http.StatusOK, `{`, errors.CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := New(srv.URL, "tok", time.Second).Status(context.Background(), domain.Ref{Entity: domain.EntityOrder, ID: 1})

			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestStatusClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := New(url, "tok", time.Second).Status(context.Background(), domain.Ref{Entity: domain.EntityOrder, ID: 1})

	assert.True(t, errors.Is(err, errors.CodeInternal))
}
