package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"nuha.dev/fleettrack/internal/geocode"
)

func TestDescribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("lat") {
		case "19.07":
			w.Write([]byte(`{"display_name":"Bandra, Mumbai","address":{"road":"Hill Road"}}`))
		case "0":
			w.Write([]byte(`{"error":"Unable to geocode"}`))
		default:
			http.Error(w, "slow down", http.StatusTooManyRequests)
		}
	}))
	defer srv.Close()
	geo := geocode.New(geocode.Config{BaseURL: srv.URL})

	assert.Equal(t, "Bandra, Mumbai", describe(context.Background(), geo, 19.07, 72.87))
	assert.Equal(t, "address not found", describe(context.Background(), geo, 0, 0))
	assert.True(t, strings.HasPrefix(describe(context.Background(), geo, 1, 1), "error fetching address"))
}
