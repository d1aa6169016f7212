package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/BathrobeBat/noise-sensor/pkg/models"
	"github.com/google/uuid"
)

// Subscribe registers a new direct sensor
func (c *Client) Subscribe(ctx context.Context, req SubscribeRequest) (*SubscribeResponse, error) {
	var resp SubscribeResponse
	if err := c.do(ctx, http.MethodPut, "/api/v1/subscribe", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PushData sends one reading of a direct sensor
func (c *Client) PushData(ctx context.Context, req DataRequest) error {
	return c.do(ctx, http.MethodPost, "/api/v1/data", req, nil)
}

// AllSensors lists every known sensor
func (c *Client) AllSensors(ctx context.Context) ([]models.SensorListItem, error) {
	var sensors []models.SensorListItem
	if err := c.do(ctx, http.MethodGet, "/api/v1/allsensors", nil, &sensors); err != nil {
		return nil, err
	}
	return sensors, nil
}

// Recent returns the newest value of a sensor, nil when there is none
func (c *Client) Recent(ctx context.Context, sensorID uuid.UUID) (*models.NoiseValue, error) {
	var value *models.NoiseValue
	if err := c.do(ctx, http.MethodGet, "/api/v1/recentdata/"+sensorID.String(), nil, &value); err != nil {
		return nil, err
	}
	return value, nil
}

// Window returns the values of a sensor for the window of mode around date.
// A zero date lets the server use today.
func (c *Client) Window(ctx context.Context, sensorID uuid.UUID, mode models.WindowMode, date time.Time) (*models.SensorWindow, error) {
	path := fmt.Sprintf("/api/v1/%s/%s", url.PathEscape(string(mode)), sensorID)
	if !date.IsZero() {
		path += "?" + url.Values{"date": {date.Format("2006-01-02")}}.Encode()
	}

	var window models.SensorWindow
	if err := c.do(ctx, http.MethodGet, path, nil, &window); err != nil {
		return nil, err
	}
	return &window, nil
}
