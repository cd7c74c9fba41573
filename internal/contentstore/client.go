// Package contentstore talks to the IPFS-compatible content store: it
// canonicalizes payloads, uploads them, computes CIDs without uploading, and
// retrieves payloads with gateway fallback (spec.md §4.1). The shape follows
// the teacher's pkg/ethereum/client.go: a thin *http.Client wrapper with one
// method per remote operation and typed, wrapped errors.
package contentstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/ipfs/go-cid"

	"github.com/fusevault/core/internal/apperr"
	"github.com/fusevault/core/internal/canonicaljson"
)

// Client wraps the gateway HTTP endpoints described in spec.md §6.
type Client struct {
	gatewayURL       string
	fallbackGateways []string // templates containing "{cid}"
	httpClient       *http.Client
	logger           *log.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets a custom logger for the client.
func WithLogger(logger *log.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithFallbackGateways overrides the default public IPFS gateway templates.
func WithFallbackGateways(templates []string) Option {
	return func(c *Client) { c.fallbackGateways = templates }
}

// WithTimeout overrides the client's HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// NewClient creates a content-store client against gatewayURL.
func NewClient(gatewayURL string, opts ...Option) *Client {
	c := &Client{
		gatewayURL: strings.TrimRight(gatewayURL, "/"),
		fallbackGateways: []string{
			"https://{cid}.ipfs.w3s.link",
			"https://{cid}.ipfs.dweb.link",
		},
		httpClient: &http.Client{Timeout: 90 * time.Second},
		logger:     log.New(log.Writer(), "[ContentStore] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// uploadResponse mirrors the gateway's {"result":{"cids":[{"cid": ...}]}}
// shape; cid may be a bare string or a nested {"/": "..."} link object.
type uploadResponse struct {
	Result struct {
		CIDs []json.RawMessage `json:"cids"`
	} `json:"result"`
}

type computeResponse struct {
	ComputedCID string `json:"computed_cid"`
}

// Store canonicalizes payload and uploads it as a single file, returning its
// content ID. Fails with KindDependencyUnavailable on connection error and
// KindInternal (malformed) on an unparseable response.
func (c *Client) Store(ctx context.Context, payload map[string]any) (string, error) {
	canonical, err := canonicaljson.Marshal(payload)
	if err != nil {
		return "", apperr.Wrap(apperr.KindValidation, "payload could not be canonicalized", err)
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("files", "payload.json")
	if err != nil {
		return "", apperr.Wrap(apperr.KindInternal, "failed to build upload form", err)
	}
	if _, err := part.Write(canonical); err != nil {
		return "", apperr.Wrap(apperr.KindInternal, "failed to write upload form", err)
	}
	if err := writer.Close(); err != nil {
		return "", apperr.Wrap(apperr.KindInternal, "failed to close upload form", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.gatewayURL+"/upload", &body)
	if err != nil {
		return "", apperr.Wrap(apperr.KindInternal, "failed to build upload request", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", apperr.Wrap(apperr.KindDependencyUnavailable, "content store unavailable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", apperr.New(apperr.KindDependencyUnavailable,
			fmt.Sprintf("content store upload returned status %d", resp.StatusCode))
	}

	var parsed uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", apperr.Wrap(apperr.KindInternal, "content store returned malformed upload response", err)
	}
	if len(parsed.Result.CIDs) == 0 {
		return "", apperr.New(apperr.KindInternal, "content store upload response contained no CIDs")
	}

	id, err := unwrapCID(parsed.Result.CIDs[0])
	if err != nil {
		return "", apperr.Wrap(apperr.KindInternal, "content store returned malformed CID", err)
	}
	if _, err := cid.Decode(id); err != nil {
		return "", apperr.Wrap(apperr.KindInternal, "content store returned malformed CID", err)
	}
	return id, nil
}

// ComputeCID canonicalizes payload and asks the gateway's pure-compute
// endpoint for the CID it would produce, without uploading anything. Must be
// byte-for-byte consistent with what Store would produce for the same
// payload (spec.md §4.1).
func (c *Client) ComputeCID(ctx context.Context, payload map[string]any) (string, error) {
	canonical, err := canonicaljson.Marshal(payload)
	if err != nil {
		return "", apperr.Wrap(apperr.KindValidation, "payload could not be canonicalized", err)
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", "payload.json")
	if err != nil {
		return "", apperr.Wrap(apperr.KindInternal, "failed to build compute-cid form", err)
	}
	if _, err := part.Write(canonical); err != nil {
		return "", apperr.Wrap(apperr.KindInternal, "failed to write compute-cid form", err)
	}
	if err := writer.Close(); err != nil {
		return "", apperr.Wrap(apperr.KindInternal, "failed to close compute-cid form", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.gatewayURL+"/calculate-cid", &body)
	if err != nil {
		return "", apperr.Wrap(apperr.KindInternal, "failed to build compute-cid request", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", apperr.Wrap(apperr.KindDependencyUnavailable, "content store unavailable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", apperr.New(apperr.KindDependencyUnavailable,
			fmt.Sprintf("content store compute-cid returned status %d", resp.StatusCode))
	}

	var parsed computeResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", apperr.Wrap(apperr.KindInternal, "content store returned malformed compute-cid response", err)
	}
	if parsed.ComputedCID == "" {
		return "", apperr.New(apperr.KindInternal, "content store compute-cid response missing computed_cid")
	}
	return parsed.ComputedCID, nil
}

// RetrievedSentinel is returned by Retrieve in place of an error when the
// bytes at cid are not valid JSON, so callers can log a failed-recovery
// transaction without the pipeline exploding (spec.md §4.1).
type RetrievedSentinel struct {
	CriticalMetadata map[string]any
	RetrievalError   string
}

// Retrieve tries the configured gateway first, then the public IPFS
// fallback gateways, returning the first successful JSON payload. If every
// gateway fails, it returns a KindDependencyUnavailable error. If the bytes
// are retrieved but are not valid JSON, it returns (nil, sentinel, nil) so
// the caller can record a failed recovery instead of treating this as a
// hard failure.
func (c *Client) Retrieve(ctx context.Context, id string) (map[string]any, *RetrievedSentinel, error) {
	if _, err := cid.Decode(id); err != nil {
		return nil, nil, apperr.Wrap(apperr.KindValidation, "invalid content id", err)
	}

	urls := c.retrieveURLs(id)
	var lastErr error
	for _, url := range urls {
		payload, sentinel, err := c.fetchOne(ctx, url)
		if err != nil {
			lastErr = err
			c.logger.Printf("retrieve from %s failed: %v", url, err)
			continue
		}
		return payload, sentinel, nil
	}
	return nil, nil, apperr.Wrap(apperr.KindDependencyUnavailable,
		"content unavailable from configured gateway and all fallbacks", lastErr)
}

func (c *Client) retrieveURLs(id string) []string {
	urls := []string{fmt.Sprintf("%s/file/%s/contents", c.gatewayURL, id)}
	for _, tmpl := range c.fallbackGateways {
		urls = append(urls, strings.ReplaceAll(tmpl, "{cid}", id))
	}
	return urls
}

func (c *Client) fetchOne(ctx context.Context, url string) (map[string]any, *RetrievedSentinel, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("gateway returned status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, err
	}

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		preview := raw
		if len(preview) > 500 {
			preview = preview[:500]
		}
		return nil, &RetrievedSentinel{
			CriticalMetadata: map[string]any{"recovered_content": string(preview)},
			RetrievalError:   err.Error(),
		}, nil
	}
	return payload, nil, nil
}

// unwrapCID extracts the CID string from a raw upload-response element,
// which may be a bare JSON string or a nested {"/": "..."} link object.
func unwrapCID(raw json.RawMessage) (string, error) {
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil && asString != "" {
		return asString, nil
	}

	var asLink struct {
		Link string `json:"/"`
	}
	if err := json.Unmarshal(raw, &asLink); err == nil && asLink.Link != "" {
		return asLink.Link, nil
	}

	return "", fmt.Errorf("cid element was neither a string nor a link object")
}
