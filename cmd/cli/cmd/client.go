package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"agentplane/pkg/api"
)

// AgentClient handles API calls to the agentplane controller.
type AgentClient struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// NewAgentClient creates a new client with the given base URL and token.
func NewAgentClient(baseURL, token string) *AgentClient {
	return &AgentClient{
		BaseURL: baseURL,
		Token:   token,
		HTTPClient: &http.Client{
			// Generous timeout so run --wait can block on the server.
			Timeout: 90 * time.Second,
		},
	}
}

// APIError represents an error response from the API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

// do sends one authenticated JSON request and decodes the response into out.
// nil body sends an empty request, nil out discards the response body.
func (c *AgentClient) do(method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(bodyBytes)
	}

	httpReq, err := http.NewRequest(method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if c.Token != "" {
		httpReq.Header.Add("Authorization", fmt.Sprintf("Bearer %s", c.Token))
	}
	httpReq.Header.Add("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return &APIError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// CreateOrganization sends POST /organizations to register a new tenant.
// This endpoint is unauthenticated; the response carries the API key once.
func (c *AgentClient) CreateOrganization(req api.CreateOrganizationRequest) (*api.CreateOrganizationResponse, error) {
	var result api.CreateOrganizationResponse
	if err := c.do(http.MethodPost, "/organizations", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// CreateAgent sends POST /agents to publish a new agent definition.
func (c *AgentClient) CreateAgent(req api.CreateAgentRequest) (*api.CreateAgentResponse, error) {
	var result api.CreateAgentResponse
	if err := c.do(http.MethodPost, "/agents", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// RunAgent sends POST /agents/{id}/run to trigger a new execution.
func (c *AgentClient) RunAgent(agentID string, req api.RunAgentRequest) (*api.RunAgentResponse, error) {
	var result api.RunAgentResponse
	if err := c.do(http.MethodPost, fmt.Sprintf("/agents/%s/run", agentID), req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// StopAgent sends POST /agents/{id}/stop to stop an agent and cancel its
// pending executions.
func (c *AgentClient) StopAgent(agentID string) (*api.StopAgentResponse, error) {
	var result api.StopAgentResponse
	if err := c.do(http.MethodPost, fmt.Sprintf("/agents/%s/stop", agentID), nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetAgentStatus sends GET /agents/{id}/status.
func (c *AgentClient) GetAgentStatus(agentID string) (*api.AgentStatusResponse, error) {
	var result api.AgentStatusResponse
	if err := c.do(http.MethodGet, fmt.Sprintf("/agents/%s/status", agentID), nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetExecution sends GET /executions/{id} to retrieve execution details.
func (c *AgentClient) GetExecution(executionID string) (*api.ExecutionResponse, error) {
	var result api.ExecutionResponse
	if err := c.do(http.MethodGet, fmt.Sprintf("/executions/%s", executionID), nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// CreateSchedule sends POST /schedules to put an agent on a schedule.
func (c *AgentClient) CreateSchedule(req api.CreateScheduleRequest) (*api.CreateScheduleResponse, error) {
	var result api.CreateScheduleResponse
	if err := c.do(http.MethodPost, "/schedules", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// UpdateSchedule sends PATCH /schedules/{id} with partial field updates.
func (c *AgentClient) UpdateSchedule(scheduleID string, req api.UpdateScheduleRequest) (*api.ScheduleStatusResponse, error) {
	var result api.ScheduleStatusResponse
	if err := c.do(http.MethodPatch, fmt.Sprintf("/schedules/%s", scheduleID), req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetScheduleStatus sends GET /schedules/{id}/status.
func (c *AgentClient) GetScheduleStatus(scheduleID string) (*api.ScheduleStatusResponse, error) {
	var result api.ScheduleStatusResponse
	if err := c.do(http.MethodGet, fmt.Sprintf("/schedules/%s/status", scheduleID), nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}
