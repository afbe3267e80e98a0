package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrNoSupervisor is returned when MQTT discovery is needed but no
// supervisor token is available.
var ErrNoSupervisor = errors.New("supervisor token not set")

type mqttService struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type supervisorResponse struct {
	Result  string      `json:"result"`
	Message string      `json:"message"`
	Data    mqttService `json:"data"`
}

// ResolveMQTT asks the supervisor for the MQTT service when mqtt_host is not
// configured, and fills in every MQTT field the options left empty.
func (c *Config) ResolveMQTT(ctx context.Context, client *http.Client) error {
	if c.MQTTHost != "" {
		return nil
	}
	if c.SupervisorToken == "" {
		return ErrNoSupervisor
	}
	if client == nil {
		client = http.DefaultClient
	}

	url := strings.TrimRight(c.SupervisorURL, "/") + "/services/mqtt"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.SupervisorToken)

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("get mqtt service info: %w", err)
	}
	defer resp.Body.Close()

	var body supervisorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("decode mqtt service info: %w", err)
	}
	if resp.StatusCode != http.StatusOK || body.Result == "error" {
		return fmt.Errorf("failed to get mqtt service info: status %d: %s", resp.StatusCode, body.Message)
	}

	c.MQTTHost = body.Data.Host
	if body.Data.Port != 0 {
		c.MQTTPort = body.Data.Port
	}
	if c.MQTTUsername == "" {
		c.MQTTUsername = body.Data.Username
	}
	if c.MQTTPassword == "" {
		c.MQTTPassword = body.Data.Password
	}
	return nil
}
