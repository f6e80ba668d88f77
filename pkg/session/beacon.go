package session

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

const beaconTimeout = 10 * time.Second

// Beacon posts data without waiting for an answer. It carries cookies but no csrf header, and
// reports false when the payload is refused up front, like navigator.sendBeacon does for payloads
// over its size limit.
func (c *Client) Beacon(data map[string]any) bool {
	raw, err := json.Marshal(data)
	if err != nil {
		slog.Error("failed to encode beacon", "err", err)
		return false
	}
	if c.beaconLimit <= 0 || len(raw) > c.beaconLimit {
		return false
	}

	c.closeMu.Lock()
	if c.closed {
		c.closeMu.Unlock()
		return false
	}
	c.beacons.Add(1)
	c.closeMu.Unlock()

	u := c.baseURL.JoinPath(PatchPath).String()
	go func() {
		defer c.beacons.Done()
		ctx, cancel := context.WithTimeout(context.Background(), beaconTimeout)
		defer cancel()
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(raw))
		if err != nil {
			slog.Debug("failed to create beacon", "err", err)
			return
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := c.httpClient.Do(req)
		if err != nil {
			slog.Debug("beacon failed", "err", err)
			return
		}
		_ = resp.Body.Close()
	}()
	return true
}
