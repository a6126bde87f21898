// Package agent models registered listeners and notifies them of
// simulated user actions.
package agent

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Agent is an external listener that receives every visited state's action.
type Agent struct {
	ID          string    `json:"id"`
	URL         string    `json:"url"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
}

// New builds an active agent with a fresh id.
func New(rawURL, name, description string) (Agent, error) {
	if err := ValidateURL(rawURL); err != nil {
		return Agent{}, err
	}
	if strings.TrimSpace(name) == "" {
		return Agent{}, fmt.Errorf("agent name is required")
	}
	return Agent{
		ID:          uuid.NewString(),
		URL:         rawURL,
		Name:        name,
		Description: description,
		Active:      true,
		CreatedAt:   time.Now().UTC(),
	}, nil
}

// ValidateURL accepts absolute http and https URLs only.
func ValidateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid agent url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid agent url %q: scheme must be http or https", rawURL)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid agent url %q: missing host", rawURL)
	}
	return nil
}

// Update carries the fields to change on an agent. Nil fields are kept.
type Update struct {
	URL         *string `json:"url,omitempty"`
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	Active      *bool   `json:"active,omitempty"`
}

// Apply returns a with the update applied.
func (u Update) Apply(a Agent) (Agent, error) {
	if u.URL != nil {
		if err := ValidateURL(*u.URL); err != nil {
			return a, err
		}
		a.URL = *u.URL
	}
	if u.Name != nil {
		if strings.TrimSpace(*u.Name) == "" {
			return a, fmt.Errorf("agent name is required")
		}
		a.Name = *u.Name
	}
	if u.Description != nil {
		a.Description = *u.Description
	}
	if u.Active != nil {
		a.Active = *u.Active
	}
	return a, nil
}

// Response is what one agent returned for one step.
type Response struct {
	AgentID    string         `json:"agent_id"`
	AgentName  string         `json:"agent_name"`
	Data       map[string]any `json:"data"`
	HTTPStatus int            `json:"http_status"`
	LatencyMS  float64        `json:"latency_ms"`
}
