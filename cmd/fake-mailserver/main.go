package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
)

// fake-mailserver imitates the mail provider API for local runs: point
// MAIL_BASE_URL at it and watch deliveries land in the log. FAIL_FIRST_N
// exercises the worker's retry path; REJECT_RECIPIENT the permanent path.

var (
	mu              sync.Mutex
	failFirstN      = 0
	reqCount        = 0
	serverToken     = ""
	rejectRecipient = ""
)

type sendRequest struct {
	From     string `json:"from"`
	To       string `json:"to"`
	Subject  string `json:"subject"`
	HTMLBody string `json:"html_body"`
	TextBody string `json:"text_body"`
}

func main() {
	if v := os.Getenv("FAIL_FIRST_N"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			failFirstN = n
		}
	}
	serverToken = os.Getenv("SERVER_TOKEN")
	rejectRecipient = os.Getenv("REJECT_RECIPIENT")

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte(`{"ok":true}`)) })
	mux.HandleFunc("/email", handleEmail)

	addr := ":8090"
	if v := os.Getenv("HTTP_PORT"); v != "" {
		addr = v
	}
	log.Printf("fake-mailserver listening on %s", addr)
	log.Fatal(http.ListenAndServe(addr, mux))
}

func handleEmail(w http.ResponseWriter, r *http.Request) {
	mu.Lock()
	reqCount++
	count := reqCount
	mu.Unlock()

	if serverToken != "" && r.Header.Get("X-Server-Token") != serverToken {
		http.Error(w, "invalid server token", http.StatusUnauthorized)
		return
	}

	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request body", http.StatusBadRequest)
		return
	}
	if req.To == "" || req.From == "" {
		http.Error(w, "from and to are required", http.StatusUnprocessableEntity)
		return
	}

	// Simulated hard bounce
	if rejectRecipient != "" && strings.Contains(req.To, rejectRecipient) {
		log.Printf("REJECTED to=%s subject=%q", req.To, req.Subject)
		http.Error(w, "recipient rejected", http.StatusUnprocessableEntity)
		return
	}

	// Simulate flakiness: first N requests -> 503
	if count <= failFirstN {
		log.Printf("FAILING (%d/%d) to=%s subject=%q", count, failFirstN, req.To, req.Subject)
		http.Error(w, "temporary failure", http.StatusServiceUnavailable)
		return
	}

	log.Printf("fake-mailserver OK to=%s subject=%q body=%s", req.To, req.Subject, truncate(req.TextBody, 120))
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"message":"ok"}`))
}

// truncate truncates a string to the specified length and adds an ellipsis if truncated
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return fmt.Sprintf("%s...", s[:n])
}
