package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"beergame/internal/game"
)

// InstructorHeader matches the header the API checks on instructor routes.
const InstructorHeader = "X-Instructor-Password"

// APIError is a non-2xx response from the API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api status %d: %s", e.Status, e.Message)
}

// IsStatus reports whether err is an APIError with the given status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}

type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) Settings(ctx context.Context) (game.Settings, error) {
	var out game.Settings
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/settings", "", nil, &out)
	return out, err
}

func (c *Client) Latest(ctx context.Context, team string, role game.Role) (game.RoundRecord, error) {
	var out game.RoundRecord
	err := c.jsonRequest(ctx, http.MethodGet, rolePath(team, role, "latest"), "", nil, &out)
	return out, err
}

func (c *Client) Claim(ctx context.Context, team string, role game.Role, occupant string) (game.RoundRecord, error) {
	var out game.RoundRecord
	err := c.jsonRequest(ctx, http.MethodPost, rolePath(team, role, "claim"), "", map[string]any{
		"occupant": occupant,
	}, &out)
	return out, err
}

// Order submits amount for the role. A zero week targets the team's current
// week.
func (c *Client) Order(ctx context.Context, team string, role game.Role, week, amount int) (game.AdvanceResult, error) {
	body := map[string]any{"amount": amount}
	if week > 0 {
		body["week"] = week
	}
	var out game.AdvanceResult
	err := c.jsonRequest(ctx, http.MethodPost, rolePath(team, role, "orders"), "", body, &out)
	return out, err
}

func (c *Client) History(ctx context.Context, team string) ([]game.RoundRecord, error) {
	var out struct {
		Records []game.RoundRecord `json:"records"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/teams/"+url.PathEscape(team)+"/history", "", nil, &out)
	return out.Records, err
}

func (c *Client) Progress(ctx context.Context, password string) ([]game.TeamProgress, error) {
	var out struct {
		Teams []game.TeamProgress `json:"teams"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/instructor/progress", password, nil, &out)
	return out.Teams, err
}

func (c *Client) SetDemand(ctx context.Context, password string, demand int) (game.Settings, error) {
	var out game.Settings
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/instructor/demand", password, map[string]any{
		"demand": demand,
	}, &out)
	return out, err
}

// SetActive sets the gateway state; a nil active toggles it.
func (c *Client) SetActive(ctx context.Context, password string, active *bool) (game.Settings, error) {
	body := map[string]any{}
	if active != nil {
		body["active"] = *active
	}
	var out game.Settings
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/instructor/active", password, body, &out)
	return out, err
}

func (c *Client) AdvanceTeam(ctx context.Context, password, team string) (game.AdvanceResult, error) {
	var out game.AdvanceResult
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/instructor/teams/"+url.PathEscape(team)+"/advance", password, map[string]any{}, &out)
	return out, err
}

func (c *Client) Reset(ctx context.Context, password string) error {
	return c.jsonRequest(ctx, http.MethodPost, "/v1/instructor/reset", password, map[string]any{}, nil)
}

// StreamURL is the websocket address of the event stream.
func (c *Client) StreamURL(team string) (string, error) {
	u, err := url.Parse(c.BaseURL + "/v1/stream")
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	if team != "" {
		u.RawQuery = url.Values{"team": {team}}.Encode()
	}
	return u.String(), nil
}

func rolePath(team string, role game.Role, action string) string {
	return "/v1/teams/" + url.PathEscape(team) + "/roles/" + url.PathEscape(role.String()) + "/" + action
}

func (c *Client) jsonRequest(ctx context.Context, method, path, password string, in any, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if password != "" {
		req.Header.Set(InstructorHeader, password)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		msg := strings.TrimSpace(string(raw))
		var payload struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &payload) == nil && payload.Error != "" {
			msg = payload.Error
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
