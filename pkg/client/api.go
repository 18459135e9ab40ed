// Package client implements the uploading side of StealthCloud: the
// HTTP API wrapper, the dedup index build, and the encrypt-and-upload
// pipeline. Everything sent through this package is ciphertext; keys
// derive from the account credentials and never leave the process.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/photosync-io/photosync/pkg/client/crypto"
)

const (
	deviceHeader  = "X-Device-UUID"
	chunkIDHeader = "X-Chunk-Id"

	requestTimeout = 5 * time.Minute
	maxRetries     = 2 // attempts = 1 + maxRetries
	manifestPage   = 500
)

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Code       string
	Detail     string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("server returned %d (%s): %s", e.StatusCode, e.Code, e.Detail)
	}
	return fmt.Sprintf("server returned %d", e.StatusCode)
}

// API is an authenticated client for one device session.
type API struct {
	baseURL    string
	httpClient *http.Client

	token      string
	deviceUUID string
}

// NewAPI creates a client for the given server base URL.
func NewAPI(baseURL string) *API {
	return &API{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: requestTimeout},
	}
}

// Login authenticates and binds the session to the deterministic
// device identity derived from the credentials.
func (a *API) Login(ctx context.Context, email, password, deviceName string) error {
	a.deviceUUID = crypto.DeviceUUID(email, password)

	body, err := json.Marshal(map[string]string{
		"email":       email,
		"password":    password,
		"device_uuid": a.deviceUUID,
		"device_name": deviceName,
	})
	if err != nil {
		return err
	}

	var resp struct {
		Token string `json:"token"`
	}
	if err := a.do(ctx, http.MethodPost, "/api/login", "application/json", body, &resp); err != nil {
		return err
	}
	a.token = resp.Token
	return nil
}

// DeviceUUID returns the session's device identity.
func (a *API) DeviceUUID() string { return a.deviceUUID }

// ListManifestIDs pages through every manifest id on the server.
func (a *API) ListManifestIDs(ctx context.Context) ([]string, error) {
	var ids []string
	for offset := 0; ; offset += manifestPage {
		path := fmt.Sprintf("/api/cloud/manifests?offset=%d&limit=%d", offset, manifestPage)
		var resp struct {
			Manifests []struct {
				ManifestID string `json:"manifestId"`
			} `json:"manifests"`
			Total int `json:"total"`
		}
		if err := a.do(ctx, http.MethodGet, path, "", nil, &resp); err != nil {
			return nil, err
		}
		for _, m := range resp.Manifests {
			ids = append(ids, m.ManifestID)
		}
		if len(ids) >= resp.Total || len(resp.Manifests) == 0 {
			return ids, nil
		}
	}
}

// FetchManifest downloads one sealed manifest payload.
func (a *API) FetchManifest(ctx context.Context, id string) (string, error) {
	var resp struct {
		EncryptedManifest string `json:"encryptedManifest"`
	}
	if err := a.do(ctx, http.MethodGet, "/api/cloud/manifests/"+url.PathEscape(id), "", nil, &resp); err != nil {
		return "", err
	}
	return resp.EncryptedManifest, nil
}

// UploadChunk stores one encrypted chunk. The server replies identically
// for fresh and already-stored chunks, so replays are safe.
func (a *API) UploadChunk(ctx context.Context, chunkID string, ciphertext []byte) error {
	return a.doRaw(ctx, chunkID, ciphertext)
}

// UploadManifest stores the sealed manifest under its stable id.
func (a *API) UploadManifest(ctx context.Context, id, encrypted string, chunkCount int) error {
	body, err := json.Marshal(map[string]any{
		"manifestId":        id,
		"encryptedManifest": encrypted,
		"chunkCount":        chunkCount,
	})
	if err != nil {
		return err
	}
	return a.do(ctx, http.MethodPost, "/api/cloud/manifests", "application/json", body, nil)
}

// Usage fetches the account's quota counters.
func (a *API) Usage(ctx context.Context) (*UsageInfo, error) {
	var resp UsageInfo
	if err := a.do(ctx, http.MethodGet, "/api/cloud/usage", "", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// UsageInfo mirrors the server's usage response.
type UsageInfo struct {
	PlanGB         int   `json:"planGb"`
	QuotaBytes     int64 `json:"quotaBytes"`
	UsedBytes      int64 `json:"usedBytes"`
	RemainingBytes int64 `json:"remainingBytes"`
}

// do sends a JSON request with retries and decodes the response into
// out when non-nil.
func (a *API) do(ctx context.Context, method, path, contentType string, body []byte, out any) error {
	return a.retry(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		a.authorize(req)

		resp, err := a.httpClient.Do(req)
		if err != nil {
			return classify(err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return responseError(resp)
		}
		if out == nil {
			io.Copy(io.Discard, resp.Body)
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return backoff.Permanent(err)
		}
		return nil
	})
}

// doRaw streams a chunk body as octet-stream.
func (a *API) doRaw(ctx context.Context, chunkID string, ciphertext []byte) error {
	return a.retry(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/api/cloud/chunks", bytes.NewReader(ciphertext))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/octet-stream")
		req.Header.Set(chunkIDHeader, chunkID)
		req.ContentLength = int64(len(ciphertext))
		a.authorize(req)

		resp, err := a.httpClient.Do(req)
		if err != nil {
			return classify(err)
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, resp.Body)

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return responseError(resp)
		}
		return nil
	})
}

func (a *API) authorize(req *http.Request) {
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}
	if a.deviceUUID != "" {
		req.Header.Set(deviceHeader, a.deviceUUID)
	}
}

func (a *API) retry(ctx context.Context, op func() error) error {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxRetries), ctx)
	return backoff.Retry(op, policy)
}

// responseError turns a non-2xx response into an APIError. Server-side
// failures are retryable; everything else is the client's fault and is
// returned immediately.
func responseError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	var problem struct {
		Code   string `json:"code"`
		Detail string `json:"detail"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&problem); err == nil {
		apiErr.Code = problem.Code
		apiErr.Detail = problem.Detail
	}
	if resp.StatusCode >= 500 {
		return apiErr
	}
	return backoff.Permanent(apiErr)
}

// classify decides whether a transport error is worth retrying:
// timeouts, resets, refused connections and DNS failures are; anything
// else is permanent.
func classify(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return err
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return err
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return err
	}
	return backoff.Permanent(err)
}
