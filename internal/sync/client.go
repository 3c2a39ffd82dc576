// client.go: HTTP client for the remote system of record.
package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sentinel-vision/sentinel-agent/internal/errors"
	"github.com/sentinel-vision/sentinel-agent/internal/identity"
)

const apiKeyHeader = "X-API-Key"

// Client talks to the backend REST API.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a backend client with the given base URL and timeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

// registrationRequest is the device registration payload.
type registrationRequest struct {
	DeviceID   string `json:"device_id"`
	DeviceName string `json:"device_name"`
	Model      string `json:"model"`
	OSVersion  string `json:"os_version"`
}

type registrationResponse struct {
	Success bool   `json:"success"`
	APIKey  string `json:"api_key"`
	Message string `json:"message"`
}

// wireEvent is one event as the backend expects it.
type wireEvent struct {
	Type         string `json:"type"`
	Timestamp    int64  `json:"timestamp"`
	TrackID      uint64 `json:"track_id"`
	EmployeeID   string `json:"employee_id,omitempty"`
	LicensePlate string `json:"license_plate,omitempty"`
	Duration     int64  `json:"duration"`
	DeviceID     string `json:"device_id"`
}

type batchEventRequest struct {
	Events   []wireEvent `json:"events"`
	DeviceID string      `json:"device_id"`
}

type batchEventResponse struct {
	Success   bool   `json:"success"`
	Processed int    `json:"processed"`
	Message   string `json:"message"`
}

// Register registers this device and returns the issued api key.
func (c *Client) Register(ctx context.Context, deviceID, deviceName, model, osVersion string) (string, error) {
	var resp registrationResponse
	err := c.post(ctx, "/api/devices/register", "", registrationRequest{
		DeviceID:   deviceID,
		DeviceName: deviceName,
		Model:      model,
		OSVersion:  osVersion,
	}, &resp)
	if err != nil {
		return "", err
	}
	if !resp.Success || resp.APIKey == "" {
		return "", errors.Newf("registration rejected: %s", resp.Message).
			Component("sync").
			Category(errors.CategorySync).
			Build()
	}
	return resp.APIKey, nil
}

// UploadEvents submits one batch of events. It returns the accepted count.
func (c *Client) UploadEvents(ctx context.Context, apiKey, deviceID string, batch []wireEvent) (int, error) {
	var resp batchEventResponse
	err := c.post(ctx, "/api/events", apiKey, batchEventRequest{
		Events:   batch,
		DeviceID: deviceID,
	}, &resp)
	if err != nil {
		return 0, err
	}
	if !resp.Success {
		return 0, errors.Newf("batch rejected: %s", resp.Message).
			Component("sync").
			Category(errors.CategorySync).
			Build()
	}
	return resp.Processed, nil
}

// Health probes backend reachability to short-circuit obviously offline
// conditions before a sync attempt.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/health", http.NoBody)
	if err != nil {
		return errors.New(err).Component("sync").Category(errors.CategoryNetwork).Build()
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return errors.New(err).Component("sync").Category(errors.CategoryNetwork).Build()
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return errors.Newf("health probe returned status %d", resp.StatusCode).
			Component("sync").
			Category(errors.CategoryNetwork).
			Build()
	}
	return nil
}

// employeeInfo mirrors the backend employee record.
type employeeInfo struct {
	EmployeeID    string    `json:"employee_id"`
	Name          string    `json:"name"`
	FaceEmbedding []float32 `json:"face_embedding"`
}

// employeeListResponse is the envelope the backend wraps employee lists in.
type employeeListResponse struct {
	Employees []employeeInfo `json:"employees"`
}

// FetchEmployees downloads the current employee embeddings for identity
// refresh.
func (c *Client) FetchEmployees(ctx context.Context, apiKey string) ([]identity.EmployeeEmbedding, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/employees", http.NoBody)
	if err != nil {
		return nil, errors.New(err).Component("sync").Category(errors.CategoryNetwork).Build()
	}
	if apiKey != "" {
		req.Header.Set(apiKeyHeader, apiKey)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.New(err).Component("sync").Category(errors.CategoryNetwork).Build()
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Newf("employees fetch returned status %d", resp.StatusCode).
			Component("sync").
			Category(errors.CategoryNetwork).
			Build()
	}

	var list employeeListResponse
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, errors.New(err).Component("sync").Category(errors.CategoryValidation).Build()
	}

	out := make([]identity.EmployeeEmbedding, 0, len(list.Employees))
	for _, info := range list.Employees {
		out = append(out, identity.EmployeeEmbedding{
			EmployeeID: info.EmployeeID,
			Name:       info.Name,
			Embedding:  info.FaceEmbedding,
		})
	}
	return out, nil
}

// post sends a JSON request and decodes a JSON response. Non-2xx statuses
// are returned as categorized errors so the caller can apply retry policy.
func (c *Client) post(ctx context.Context, path, apiKey string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return errors.New(err).Component("sync").Category(errors.CategoryValidation).Build()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return errors.New(err).Component("sync").Category(errors.CategoryNetwork).Build()
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set(apiKeyHeader, apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.New(err).
			Component("sync").
			Category(errors.CategoryNetwork).
			Context("path", path).
			Build()
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return errors.New(fmt.Errorf("request to %s failed with status %d: %s", path, resp.StatusCode, snippet)).
			Component("sync").
			Category(errors.CategoryNetwork).
			Context("status", resp.StatusCode).
			Build()
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return errors.New(err).Component("sync").Category(errors.CategoryValidation).Build()
		}
	}
	return nil
}
