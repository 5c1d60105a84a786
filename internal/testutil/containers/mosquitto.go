//go:build integration

//nolint:misspell // Mosquitto is the official Eclipse project name
package containers

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	mosquittoImage = "eclipse-mosquitto:2.0"
	mosquittoPort  = "1883/tcp"
)

// Mosquitto 2.x refuses remote clients unless a listener is configured.
const mosquittoConf = `listener 1883
allow_anonymous true
`

// MosquittoContainer is a running anonymous MQTT broker.
type MosquittoContainer struct {
	container testcontainers.Container
	url       string
}

// NewMosquittoContainer starts a broker accepting anonymous clients.
func NewMosquittoContainer(ctx context.Context) (*MosquittoContainer, error) {
	ctr, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        mosquittoImage,
			ExposedPorts: []string{mosquittoPort},
			Files: []testcontainers.ContainerFile{{
				Reader:            strings.NewReader(mosquittoConf),
				ContainerFilePath: "/mosquitto/config/mosquitto.conf",
				FileMode:          0o644,
			}},
			WaitingFor: wait.ForListeningPort(mosquittoPort).WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start mosquitto container: %w", err)
	}

	host, err := ctr.Host(ctx)
	if err != nil {
		_ = testcontainers.TerminateContainer(ctr)
		return nil, fmt.Errorf("failed to get mosquitto host: %w", err)
	}
	port, err := ctr.MappedPort(ctx, mosquittoPort)
	if err != nil {
		_ = testcontainers.TerminateContainer(ctr)
		return nil, fmt.Errorf("failed to get mosquitto port: %w", err)
	}

	return &MosquittoContainer{
		container: ctr,
		url:       "tcp://" + net.JoinHostPort(host, port.Port()),
	}, nil
}

// BrokerURL returns the tcp:// address clients connect to.
func (c *MosquittoContainer) BrokerURL() string { return c.url }

// Terminate removes the container.
func (c *MosquittoContainer) Terminate(_ context.Context) error {
	return testcontainers.TerminateContainer(c.container)
}
