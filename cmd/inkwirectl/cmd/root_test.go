package cmd

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestMakeRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
				t.Errorf("Authorization = %q", got)
			}
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"value":"pong"}`))
		case "/fail":
			http.Error(w, "boom", http.StatusServiceUnavailable)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	serverAddr = srv.URL
	timeout = 5 * time.Second
	jwtToken = "test-token"
	outputJSON = false

	var resp struct {
		Value string `json:"value"`
	}
	if err := makeRequest("GET", "/ok", nil, &resp); err != nil {
		t.Fatalf("makeRequest: %v", err)
	}
	if resp.Value != "pong" {
		t.Errorf("value = %q, want pong", resp.Value)
	}

	err := makeRequest("GET", "/fail", nil, nil)
	if err == nil {
		t.Fatal("makeRequest on /fail succeeded, want error")
	}
}
