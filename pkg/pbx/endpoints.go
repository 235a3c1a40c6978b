package pbx

import (
	"context"
	"time"
)

// ActiveCall is one in-progress call as reported by the PBX.
type ActiveCall struct {
	CallID       string    `json:"call_id"`
	Extension    string    `json:"extension"`
	CallerName   string    `json:"caller_name"`
	CallerNumber string    `json:"caller_number"`
	State        string    `json:"state"`
	StartedAt    time.Time `json:"started_at"`
}

// AgentStatus is one agent's presence state.
type AgentStatus struct {
	Extension     string `json:"extension"`
	Name          string `json:"name"`
	Status        string `json:"status"`
	CurrentCallID string `json:"current_call_id,omitempty"`
}

// QueueStats summarizes one call queue.
type QueueStats struct {
	Queue          string  `json:"queue"`
	Waiting        int     `json:"waiting"`
	LongestWaitSec int     `json:"longest_wait_sec"`
	AbandonRate    float64 `json:"abandon_rate"`
	AgentsFree     int     `json:"agents_free"`
}

// ActiveCalls lists the calls currently in progress on the PBX. Used at
// startup to reconcile sessions with calls that began before the watcher
// connected.
func (c *Client) ActiveCalls(ctx context.Context) ([]ActiveCall, error) {
	var out struct {
		Calls []ActiveCall `json:"calls"`
	}
	if err := c.Get(ctx, "/api/v1/calls/active", &out); err != nil {
		return nil, err
	}
	return out.Calls, nil
}

// AgentStatuses lists agent presence.
func (c *Client) AgentStatuses(ctx context.Context) ([]AgentStatus, error) {
	var out struct {
		Agents []AgentStatus `json:"agents"`
	}
	if err := c.Get(ctx, "/api/v1/agents/status", &out); err != nil {
		return nil, err
	}
	return out.Agents, nil
}

// QueueStatistics lists per-queue load figures.
func (c *Client) QueueStatistics(ctx context.Context) ([]QueueStats, error) {
	var out struct {
		Queues []QueueStats `json:"queues"`
	}
	if err := c.Get(ctx, "/api/v1/queues/stats", &out); err != nil {
		return nil, err
	}
	return out.Queues, nil
}
