package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/bws-projects/bws-api-nft-zk/internal/hmacauth"
	"github.com/bws-projects/bws-api-nft-zk/internal/workflow"
)

const (
	invocationsPath = "/api/v1/invocations"
	estimatesPath   = "/api/v1/estimates"
)

// remoteClient posts events to a running server. An empty Secret sends
// unsigned requests, which a server without HMAC_SECRET accepts.
type remoteClient struct {
	BaseURL string
	Secret  string
	Client  *http.Client
}

func sendEvent(ctx context.Context, rc remoteClient, route string, body []byte) (*workflow.State, error) {
	url := strings.TrimRight(rc.BaseURL, "/") + route
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if rc.Secret != "" {
		hmacauth.SignRequest(req, rc.Secret, body, time.Now())
	}

	client := rc.Client
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Minute}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post %s: %w", url, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("post %s: status %d: %s", url, resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var state workflow.State
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	return &state, nil
}
