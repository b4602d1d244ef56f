package main

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"

	"glusterd/internal/configuration"
	"glusterd/internal/friend"
	"glusterd/internal/intake"
	"glusterd/internal/metrics"
	"glusterd/internal/op"
	"glusterd/internal/peer"
	"glusterd/internal/transport"
	"glusterd/internal/volume"
)

// Daemon owns every long-lived component of one management node.
type Daemon struct {
	Self     uuid.UUID
	Hostname string

	Registry *peer.Registry
	Volumes  *volume.Store
	Friends  *friend.Machine
	Ops      *op.Machine
	Server   *transport.Server
	Metrics  *metrics.Server

	stopped atomic.Bool
}

func NewDaemon(cfg configuration.ConfigProvider) (*Daemon, error) {
	self, err := cfg.GetNode().NodeUUID()
	if err != nil {
		return nil, err
	}
	hostname, err := cfg.GetNode().NodeHostname()
	if err != nil {
		return nil, fmt.Errorf("node hostname: %w", err)
	}

	registry := peer.NewRegistry()
	volumes := volume.NewStore()
	locks := op.NewLockTable()

	friends := friend.New(registry, transport.NewDialer(cfg.GetTransport().PeerPort),
		friend.NewConfigFromProperties(cfg.GetCluster(), self, hostname))
	ops := op.New(registry, volumes, locks, op.NewConfigFromProperties(cfg.GetCluster(), self))

	svc := intake.NewService(self, hostname, registry, friends, ops)

	d := &Daemon{
		Self:     self,
		Hostname: hostname,
		Registry: registry,
		Volumes:  volumes,
		Friends:  friends,
		Ops:      ops,
		Server:   transport.NewServer(cfg.GetTransport(), svc),
	}
	if m := cfg.GetMetrics(); m.Enabled {
		d.Metrics = metrics.NewServer(m.Address, d.health)
	}
	return d, nil
}

func (d *Daemon) Start() error {
	d.Friends.Start()
	d.Ops.Start()

	if err := d.Server.Start(); err != nil {
		d.Stop()
		return fmt.Errorf("start transport: %w", err)
	}
	if d.Metrics != nil {
		if err := d.Metrics.Start(); err != nil {
			d.Stop()
			return fmt.Errorf("start metrics server: %w", err)
		}
	}

	slog.Info("glusterd ready", "uuid", d.Self, "hostname", d.Hostname, "addr", d.Server.Addr())
	return nil
}

// Stop tears down in reverse start order.
func (d *Daemon) Stop() {
	if !d.stopped.CompareAndSwap(false, true) {
		return
	}
	if d.Metrics != nil {
		d.Metrics.Stop()
	}
	d.Server.Stop()
	d.Ops.Stop()
	d.Friends.Stop()
}

func (d *Daemon) health() error {
	if d.stopped.Load() {
		return errors.New("glusterd is stopping")
	}
	return nil
}
