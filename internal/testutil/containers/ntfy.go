//go:build integration

package containers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tcexec "github.com/testcontainers/testcontainers-go/exec"
	"github.com/testcontainers/testcontainers-go/wait"
)

const ntfyPort = "80/tcp"

// NtfyConfig configures the ntfy container.
type NtfyConfig struct {
	Image string
	// EnableAuth turns on the user database with deny-all default access.
	EnableAuth bool
}

// DefaultNtfyConfig returns the settings used when NewNtfyContainer gets nil.
func DefaultNtfyConfig() NtfyConfig {
	return NtfyConfig{Image: "binwiederhier/ntfy:latest"}
}

// NtfyMessage is one cached message returned by a poll.
type NtfyMessage struct {
	ID      string `json:"id"`
	Event   string `json:"event"`
	Topic   string `json:"topic"`
	Title   string `json:"title"`
	Message string `json:"message"`
	Time    int64  `json:"time"`
}

// NtfyContainer is a running ntfy server.
type NtfyContainer struct {
	container testcontainers.Container
	host      string
	auth      bool
	client    *http.Client
}

// NewNtfyContainer starts ntfy with an in-memory message cache.
func NewNtfyContainer(ctx context.Context, cfg *NtfyConfig) (*NtfyContainer, error) {
	c := DefaultNtfyConfig()
	if cfg != nil {
		c = *cfg
	}

	req := testcontainers.ContainerRequest{
		Image:        c.Image,
		ExposedPorts: []string{ntfyPort},
		Cmd:          []string{"serve", "--cache-file=/var/cache/ntfy/cache.db"},
		Tmpfs:        map[string]string{"/var/cache/ntfy": "rw"},
		WaitingFor:   wait.ForHTTP("/v1/health").WithPort(ntfyPort).WithStartupTimeout(30 * time.Second),
	}
	if c.EnableAuth {
		req.Env = map[string]string{
			"NTFY_AUTH_FILE":           "/var/cache/ntfy/auth.db",
			"NTFY_AUTH_DEFAULT_ACCESS": "deny-all",
		}
	}

	ctr, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start ntfy container: %w", err)
	}
	host, err := ctr.Host(ctx)
	if err != nil {
		_ = testcontainers.TerminateContainer(ctr)
		return nil, fmt.Errorf("failed to get ntfy host: %w", err)
	}
	port, err := ctr.MappedPort(ctx, ntfyPort)
	if err != nil {
		_ = testcontainers.TerminateContainer(ctr)
		return nil, fmt.Errorf("failed to get ntfy port: %w", err)
	}

	return &NtfyContainer{
		container: ctr,
		host:      net.JoinHostPort(host, port.Port()),
		auth:      c.EnableAuth,
		client:    &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// GetHost returns host:port, the form shoutrrr ntfy URLs expect.
func (c *NtfyContainer) GetHost(_ context.Context) string { return c.host }

// AddUser creates a user with no topic access.
func (c *NtfyContainer) AddUser(ctx context.Context, username, password string) error {
	return c.ntfy(ctx, []string{"ntfy", "user", "add", username}, tcexec.WithEnv([]string{"NTFY_PASSWORD=" + password}))
}

// GrantAccess gives username "ro", "wo" or "rw" permission on topic.
func (c *NtfyContainer) GrantAccess(ctx context.Context, username, topic, permission string) error {
	return c.ntfy(ctx, []string{"ntfy", "access", username, topic, permission})
}

func (c *NtfyContainer) ntfy(ctx context.Context, cmd []string, opts ...tcexec.ProcessOption) error {
	if !c.auth {
		return errors.New("ntfy container was started without auth")
	}
	code, out, err := c.container.Exec(ctx, cmd, append(opts, tcexec.Multiplexed())...)
	if err != nil {
		return fmt.Errorf("failed to run %v: %w", cmd, err)
	}
	if code != 0 {
		msg, _ := io.ReadAll(out)
		return fmt.Errorf("%v exited with %d: %s", cmd, code, msg)
	}
	return nil
}

// PollMessages returns the messages cached for topic.
func (c *NtfyContainer) PollMessages(ctx context.Context, topic string) ([]NtfyMessage, error) {
	return c.PollMessagesWithAuth(ctx, topic, "", "")
}

// PollMessagesWithAuth polls topic with basic auth when username is set.
func (c *NtfyContainer) PollMessagesWithAuth(ctx context.Context, topic, username, password string) ([]NtfyMessage, error) {
	url := "http://" + c.host + "/" + topic + "/json?poll=1"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, err
	}
	if username != "" {
		req.SetBasicAuth(username, password)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to poll %s: %w", topic, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("poll %s returned %d: %s", topic, resp.StatusCode, body)
	}

	// The response is newline-delimited JSON.
	var messages []NtfyMessage
	dec := json.NewDecoder(resp.Body)
	for dec.More() {
		var m NtfyMessage
		if err := dec.Decode(&m); err != nil {
			return nil, fmt.Errorf("failed to decode ntfy message: %w", err)
		}
		if m.Event == "" || m.Event == "message" {
			messages = append(messages, m)
		}
	}
	return messages, nil
}

// Terminate removes the container.
func (c *NtfyContainer) Terminate(_ context.Context) error {
	return testcontainers.TerminateContainer(c.container)
}
