package configuration

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Properties struct {
	App       AppConfigurationProperties       `yaml:"app"`
	Node      NodeConfigurationProperties      `yaml:"node"`
	Transport TransportConfigurationProperties `yaml:"transport"`
	Cluster   ClusterConfigurationProperties   `yaml:"cluster"`
	Metrics   MetricsConfigurationProperties   `yaml:"metrics"`
}

type AppConfigurationProperties struct {
	Profile  string `yaml:"profile"`
	LogLevel string `yaml:"log-level" validate:"oneof=debug info warn warning error"`
}

// NodeConfigurationProperties identify this daemon to its peers. An empty
// uuid is generated at start-up; an empty hostname falls back to os.Hostname.
type NodeConfigurationProperties struct {
	UUID     string `yaml:"uuid" validate:"omitempty,uuid"`
	Hostname string `yaml:"hostname"`
}

type TransportConfigurationProperties struct {
	Network              string `yaml:"network" validate:"oneof=tcp tcp4 tcp6"`
	Address              string `yaml:"address"`
	Port                 string `yaml:"port" validate:"required,numeric"`
	PeerPort             string `yaml:"peer-port" validate:"omitempty,numeric"`
	Timeout              uint64 `yaml:"timeout"`
	MaxConcurrentStreams uint32 `yaml:"max-concurrent-streams"`
}

type ClusterConfigurationProperties struct {
	RPCTimeout     uint64 `yaml:"rpc-timeout"`
	ReplyGrace     uint64 `yaml:"reply-grace"`
	EventQueueSize int    `yaml:"event-queue-size" validate:"gte=0"`
}

type MetricsConfigurationProperties struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address" validate:"omitempty,hostname_port"`
}

func (c *TransportConfigurationProperties) ListenAddr() string {
	return net.JoinHostPort(c.Address, c.Port)
}

func (c *TransportConfigurationProperties) RequestTimeout() time.Duration {
	return time.Duration(c.Timeout) * time.Millisecond
}

func (c *ClusterConfigurationProperties) RPCTimeoutDuration() time.Duration {
	return time.Duration(c.RPCTimeout) * time.Millisecond
}

func (c *ClusterConfigurationProperties) ReplyGraceDuration() time.Duration {
	return time.Duration(c.ReplyGrace) * time.Millisecond
}

// NodeUUID parses the configured uuid, generating one when unset.
func (c *NodeConfigurationProperties) NodeUUID() (uuid.UUID, error) {
	if c.UUID == "" {
		return uuid.New(), nil
	}
	id, err := uuid.Parse(c.UUID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("node uuid: %w", err)
	}
	return id, nil
}

func (c *NodeConfigurationProperties) NodeHostname() (string, error) {
	if c.Hostname != "" {
		return c.Hostname, nil
	}
	return os.Hostname()
}

// Validate fills defaults for optional values and rejects unusable ones.
func (p *Properties) Validate() error {
	var errs []error

	p.App.LogLevel = strings.ToLower(p.App.LogLevel)
	if p.App.LogLevel == "" {
		p.App.LogLevel = "info"
	}
	if p.Transport.Network == "" {
		p.Transport.Network = "tcp"
	}
	if p.Transport.PeerPort == "" {
		p.Transport.PeerPort = p.Transport.Port
	}
	if p.Transport.Timeout == 0 {
		p.Transport.Timeout = 30000
	}
	if p.Cluster.RPCTimeout == 0 {
		p.Cluster.RPCTimeout = 5000
	}
	if p.Cluster.ReplyGrace == 0 {
		p.Cluster.ReplyGrace = 1000
	}
	if p.Cluster.EventQueueSize == 0 {
		p.Cluster.EventQueueSize = 1024
	}
	if p.Metrics.Enabled && p.Metrics.Address == "" {
		errs = append(errs, errors.New("metrics.address is required when metrics are enabled"))
	}

	if err := validateStruct(p); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}
