package socketio

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// SocketConfig is the body served at /socketconfig/<channel>.json: the
// live websocket endpoint set for one room.
type SocketConfig struct {
	Servers []ServerInfo `json:"servers"`
	Error   string       `json:"error"`
}

// ServerInfo is one endpoint entry.
type ServerInfo struct {
	URL    string `json:"url"`
	Secure bool   `json:"secure"`
}

// GetSocketConfig resolves the socket.io server URL for a channel via
// one HTTPS GET against the domain's socket config endpoint. The first
// secure server wins; without one, the first server of any kind. Every
// failure mode wraps ErrSocketConfig and must be fixed before any
// connect attempt.
func GetSocketConfig(ctx context.Context, client *http.Client, domain, channel string) (string, error) {
	if client == nil {
		client = http.DefaultClient
	}
	cfgURL := domain
	if !strings.HasPrefix(cfgURL, "http") {
		cfgURL = "https://" + cfgURL
	}
	cfgURL = strings.TrimRight(cfgURL, "/") + "/socketconfig/" + channel + ".json"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfgURL, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSocketConfig, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSocketConfig, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: %s returned %s", ErrSocketConfig, cfgURL, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSocketConfig, err)
	}
	var cfg SocketConfig
	if err := json.Unmarshal(body, &cfg); err != nil {
		return "", fmt.Errorf("%w: %v", ErrSocketConfig, err)
	}
	if cfg.Error != "" {
		return "", fmt.Errorf("%w: %s", ErrSocketConfig, cfg.Error)
	}
	for _, srv := range cfg.Servers {
		if srv.Secure && srv.URL != "" {
			return srv.URL, nil
		}
	}
	for _, srv := range cfg.Servers {
		if srv.URL != "" {
			return srv.URL, nil
		}
	}
	return "", fmt.Errorf("%w: no servers in socket config", ErrSocketConfig)
}
