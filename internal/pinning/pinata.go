// Package pinning stores asset metadata documents off-chain and returns
// their content id.
package pinning

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/tidwall/gjson"

	"github.com/bws-projects/bws-api-nft-zk/internal/failure"
)

// DefaultEndpoint is the Pinata JSON pinning API.
const DefaultEndpoint = "https://api.pinata.cloud/pinning/pinJSONToIPFS"

// Credentials authenticate against the pinning service.
type Credentials struct {
	Endpoint  string
	APIKey    string
	APISecret string
}

// Pinner pins a JSON document and returns its content id.
type Pinner interface {
	Pin(ctx context.Context, creds Credentials, document any) (string, error)
}

// PinataClient pins through the Pinata HTTP API.
type PinataClient struct {
	Client *http.Client
}

func NewPinataClient(timeout time.Duration) *PinataClient {
	return &PinataClient{Client: &http.Client{Timeout: timeout}}
}

type pinRequest struct {
	Content any `json:"pinataContent"`
}

// Pin rejects bad credentials as fatal; other failures are left untagged
// and retried on the next invocation.
func (p *PinataClient) Pin(ctx context.Context, creds Credentials, document any) (string, error) {
	if creds.APIKey == "" || creds.APISecret == "" {
		return "", failure.Fatalf("pinning credentials are not configured")
	}
	endpoint := creds.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	} else if !strings.Contains(endpoint, "pinJSONToIPFS") {
		endpoint = strings.TrimRight(endpoint, "/") + "/pinning/pinJSONToIPFS"
	}

	body, err := json.Marshal(pinRequest{Content: document})
	if err != nil {
		return "", failure.AsFatal(fmt.Errorf("encode metadata: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", failure.AsFatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("pinata_api_key", creds.APIKey)
	req.Header.Set("pinata_secret_api_key", creds.APISecret)

	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload metadata: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read pin response: %w", err)
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", failure.Fatalf("pinning rejected credentials: status %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("upload metadata: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	cid := gjson.GetBytes(raw, "IpfsHash").String()
	if cid == "" {
		return "", fmt.Errorf("pin response has no IpfsHash")
	}
	return cid, nil
}
