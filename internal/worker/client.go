package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CallTimeout bounds every single RPC attempt. Voice control is interactive;
// a worker that cannot answer within this window is treated as failed and the
// caller's retry/breaker machinery takes over.
const CallTimeout = 500 * time.Millisecond

// Client is the HTTP JSON RPC surface of one worker process.
type Client struct {
	botType BotType
	baseURL string
	http    *http.Client
}

// NewClient creates a client for a worker reachable at baseURL.
func NewClient(botType BotType, baseURL string) *Client {
	return &Client{
		botType: botType,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: CallTimeout},
	}
}

func (c *Client) BotType() BotType { return c.botType }

// Health probes the worker's liveness endpoint.
func (c *Client) Health(ctx context.Context) (HealthResponse, error) {
	var out HealthResponse
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return out, err
	}
	if err := c.do(req, &out); err != nil {
		return out, err
	}
	return out, nil
}

// GetState fetches the worker's current connection state for a guild.
func (c *Client) GetState(ctx context.Context, guildID string) (StateResponse, error) {
	var out StateResponse
	err := c.post(ctx, "/state", StateRequest{GuildID: guildID}, &out)
	return out, err
}

// Join asks the worker to connect its voice session to a channel.
func (c *Client) Join(ctx context.Context, guildID, channelID string) (JoinResponse, error) {
	var out JoinResponse
	err := c.post(ctx, "/join", JoinRequest{
		RequestID: uuid.NewString(),
		GuildID:   guildID,
		ChannelID: channelID,
	}, &out)
	return out, err
}

// Leave asks the worker to drop its voice session for a guild.
func (c *Client) Leave(ctx context.Context, guildID string) (LeaveResponse, error) {
	var out LeaveResponse
	err := c.post(ctx, "/leave", LeaveRequest{
		RequestID: uuid.NewString(),
		GuildID:   guildID,
	}, &out)
	return out, err
}

// Call issues a domain operation (enqueue, skip, speak, ...). A request ID is
// stamped on every call so the worker can trace and de-duplicate.
func (c *Client) Call(ctx context.Context, op string, req OpRequest) (OpResponse, error) {
	req.RequestID = uuid.NewString()
	var out OpResponse
	err := c.post(ctx, "/"+op, req, &out)
	return out, err
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s worker: %w", c.botType, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 256*1024))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s worker: status=%d body=%s", c.botType, resp.StatusCode, string(respBody))
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("%s worker: decode response: %w", c.botType, err)
	}
	return nil
}
