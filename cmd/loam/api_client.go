package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/loamlabs/loam/internal/gateway"
	"github.com/loamlabs/loam/internal/workflow/store"
	"github.com/loamlabs/loam/pkg/models"
)

// apiClient talks to a running loam daemon.
type apiClient struct {
	baseURL string
	client  *http.Client
}

func newAPIClient(baseURL string) *apiClient {
	return &apiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{},
	}
}

// Chat starts a workflow and invokes handle for every streamed event.
// Returning an error from handle aborts the stream.
func (c *apiClient) Chat(ctx context.Context, req gateway.ChatRequest, handle func(models.WorkflowEvent) error) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return c.responseError(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var event models.WorkflowEvent
		if err := json.Unmarshal(line, &event); err != nil {
			return fmt.Errorf("invalid event from server: %w", err)
		}
		if err := handle(event); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// ListWorkflows returns recent run summaries.
func (c *apiClient) ListWorkflows(ctx context.Context) ([]store.Summary, error) {
	var out struct {
		Workflows []store.Summary `json:"workflows"`
	}
	if err := c.getJSON(ctx, "/api/workflows", &out); err != nil {
		return nil, err
	}
	return out.Workflows, nil
}

// GetWorkflow returns the stored state of one run.
func (c *apiClient) GetWorkflow(ctx context.Context, id string) (*models.WorkflowState, error) {
	var state models.WorkflowState
	if err := c.getJSON(ctx, "/api/workflows/"+id, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// CancelWorkflow requests cancellation; the boolean reports whether a
// live run was interrupted.
func (c *apiClient) CancelWorkflow(ctx context.Context, id string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/workflows/"+id+"/cancel", nil)
	if err != nil {
		return false, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		return false, c.responseError(resp)
	}
	var out struct {
		Cancelled bool `json:"cancelled"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, err
	}
	return out.Cancelled, nil
}

func (c *apiClient) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return c.responseError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *apiClient) responseError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, payload.Error)
	}
	return fmt.Errorf("server returned %d", resp.StatusCode)
}
