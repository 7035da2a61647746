// Package docker provides a wrapper around the Docker SDK client.
package docker

import (
	"context"

	"github.com/docker/docker/client"
	"github.com/sirupsen/logrus"
)

// Client wraps the Docker SDK client with additional functionality.
type Client struct {
	*client.Client
}

// NewClient creates a new Docker client. host overrides DOCKER_HOST when set;
// otherwise the environment or unix:///var/run/docker.sock is used.
func NewClient(host string) (*Client, error) {
	opts := []client.Opt{
		client.FromEnv,
		client.WithAPIVersionNegotiation(),
	}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		logrus.Errorf("Failed to create Docker client: %v", err)
		return nil, err
	}

	logrus.WithField("host", cli.DaemonHost()).Info("Docker client created")
	return &Client{Client: cli}, nil
}

// Ping verifies connection to the Docker daemon.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.Client.Ping(ctx)
	if err != nil {
		logrus.Debugf("Docker daemon ping failed: %v", err)
		return err
	}
	return nil
}
