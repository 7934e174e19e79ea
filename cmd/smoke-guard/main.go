package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"
)

func main() {
	base := os.Getenv("TOKENGATE_BASE_URL")
	if base == "" {
		base = "http://localhost:8080"
	}
	base = strings.TrimRight(base, "/")
	token := os.Getenv("TOKENGATE_SMOKE_TOKEN")

	client := &http.Client{Timeout: 5 * time.Second}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	expect(ctx, client, base+"/healthz", "", http.StatusOK)
	expect(ctx, client, base+"/v1/me", "", http.StatusUnauthorized)
	expect(ctx, client, base+"/v1/me", "Bearer not-a-token", http.StatusUnauthorized)

	if token == "" {
		fmt.Println("✅ guard smoke test passed (TOKENGATE_SMOKE_TOKEN not set, skipped authenticated check)")
		return
	}
	body := expect(ctx, client, base+"/v1/me", "Bearer "+token, http.StatusOK)
	var me struct {
		Subject string `json:"subject"`
	}
	if err := json.Unmarshal(body, &me); err != nil || me.Subject == "" {
		log.Fatalf("unexpected /v1/me body: %s", body)
	}
	fmt.Printf("✅ guard smoke test passed: subject=%s\n", me.Subject)
}

func expect(ctx context.Context, client *http.Client, url, authorization string, want int) []byte {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		log.Fatalf("build request %s: %v", url, err)
	}
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	resp, err := client.Do(req)
	if err != nil {
		log.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()

	var raw json.RawMessage
	_ = json.NewDecoder(resp.Body).Decode(&raw)
	if resp.StatusCode != want {
		log.Fatalf("GET %s: expected %d, got %d: %s", url, want, resp.StatusCode, raw)
	}
	if want == http.StatusUnauthorized && resp.Header.Get("WWW-Authenticate") == "" {
		log.Fatalf("GET %s: 401 without WWW-Authenticate", url)
	}
	return raw
}
