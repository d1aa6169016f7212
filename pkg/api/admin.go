package api

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/BathrobeBat/noise-sensor/pkg/aggregator"
)

// Login exchanges credentials for a token and keeps it for later calls
func (c *Client) Login(ctx context.Context, username, password string) (*LoginResponse, error) {
	var resp LoginResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/auth/login", LoginRequest{Username: username, Password: password}, &resp); err != nil {
		return nil, err
	}
	c.token = resp.Token
	return &resp, nil
}

// Me returns the admin the current token belongs to
func (c *Client) Me(ctx context.Context) (*UserInfo, error) {
	var user UserInfo
	if err := c.do(ctx, http.MethodGet, "/api/v1/auth/me", nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// TriggerPoll starts a feed poll on the server
func (c *Client) TriggerPoll(ctx context.Context) (*TaskResponse, error) {
	var resp TaskResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/admin/poll", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Aggregate runs the daily aggregation for date, or for yesterday when date
// is zero
func (c *Client) Aggregate(ctx context.Context, date time.Time) (*aggregator.RunReport, error) {
	path := "/api/v1/admin/aggregate"
	if !date.IsZero() {
		path += "?" + url.Values{"date": {date.Format("2006-01-02")}}.Encode()
	}

	var report aggregator.RunReport
	if err := c.do(ctx, http.MethodPost, path, nil, &report); err != nil {
		return nil, err
	}
	return &report, nil
}
