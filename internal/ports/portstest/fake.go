// Package portstest provides in-memory PeerClient and Dialer fakes.
package portstest

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"glusterd/internal/ports"
	"glusterd/internal/wire"
)

var ErrDialRefused = errors.New("dial refused")

// Client is a scripted PeerClient. Nil hooks answer with success carrying
// the client's UUID. Every call is recorded by method name.
type Client struct {
	Host string
	UUID uuid.UUID

	ProbeFn         func(context.Context, *wire.ProbeRequest) (*wire.ProbeResponse, error)
	FriendAddFn     func(context.Context, *wire.FriendRequest) (*wire.FriendResponse, error)
	FriendRemoveFn  func(context.Context, *wire.FriendRequest) (*wire.FriendResponse, error)
	ClusterLockFn   func(context.Context, *wire.ClusterLockRequest) (*wire.ClusterLockResponse, error)
	ClusterUnlockFn func(context.Context, *wire.ClusterUnlockRequest) (*wire.ClusterUnlockResponse, error)
	StageOpFn       func(context.Context, *wire.StageOpRequest) (*wire.StageOpResponse, error)
	CommitOpFn      func(context.Context, *wire.CommitOpRequest) (*wire.CommitOpResponse, error)

	mu     sync.Mutex
	calls  []string
	closed bool
}

func NewClient(host string, id uuid.UUID) *Client {
	return &Client{Host: host, UUID: id}
}

func (c *Client) record(method string) {
	c.mu.Lock()
	c.calls = append(c.calls, method)
	c.mu.Unlock()
}

// Calls returns the recorded method names in call order.
func (c *Client) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.calls))
	copy(out, c.calls)
	return out
}

// Count returns how many times method was called.
func (c *Client) Count(method string) int {
	n := 0
	for _, m := range c.Calls() {
		if m == method {
			n++
		}
	}
	return n
}

func (c *Client) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Client) Probe(ctx context.Context, req *wire.ProbeRequest) (*wire.ProbeResponse, error) {
	c.record("Probe")
	if c.ProbeFn != nil {
		return c.ProbeFn(ctx, req)
	}
	return &wire.ProbeResponse{UUID: c.UUID, Hostname: req.Hostname}, nil
}

func (c *Client) FriendAdd(ctx context.Context, req *wire.FriendRequest) (*wire.FriendResponse, error) {
	c.record("FriendAdd")
	if c.FriendAddFn != nil {
		return c.FriendAddFn(ctx, req)
	}
	return &wire.FriendResponse{UUID: c.UUID, Hostname: c.Host}, nil
}

func (c *Client) FriendRemove(ctx context.Context, req *wire.FriendRequest) (*wire.FriendResponse, error) {
	c.record("FriendRemove")
	if c.FriendRemoveFn != nil {
		return c.FriendRemoveFn(ctx, req)
	}
	return &wire.FriendResponse{UUID: c.UUID, Hostname: c.Host}, nil
}

func (c *Client) ClusterLock(ctx context.Context, req *wire.ClusterLockRequest) (*wire.ClusterLockResponse, error) {
	c.record("ClusterLock")
	if c.ClusterLockFn != nil {
		return c.ClusterLockFn(ctx, req)
	}
	return &wire.ClusterLockResponse{UUID: c.UUID}, nil
}

func (c *Client) ClusterUnlock(ctx context.Context, req *wire.ClusterUnlockRequest) (*wire.ClusterUnlockResponse, error) {
	c.record("ClusterUnlock")
	if c.ClusterUnlockFn != nil {
		return c.ClusterUnlockFn(ctx, req)
	}
	return &wire.ClusterUnlockResponse{UUID: c.UUID}, nil
}

func (c *Client) StageOp(ctx context.Context, req *wire.StageOpRequest) (*wire.StageOpResponse, error) {
	c.record("StageOp")
	if c.StageOpFn != nil {
		return c.StageOpFn(ctx, req)
	}
	return &wire.StageOpResponse{UUID: c.UUID, Op: req.Op}, nil
}

func (c *Client) CommitOp(ctx context.Context, req *wire.CommitOpRequest) (*wire.CommitOpResponse, error) {
	c.record("CommitOp")
	if c.CommitOpFn != nil {
		return c.CommitOpFn(ctx, req)
	}
	return &wire.CommitOpResponse{UUID: c.UUID, Op: req.Op}, nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

var _ ports.PeerClient = (*Client)(nil)

// Dialer hands out Clients by hostname, creating plain ones for unknown
// hosts, and keeps the connectivity callback of the last dial per host.
type Dialer struct {
	mu       sync.Mutex
	clients  map[string]*Client
	notifies map[string]ports.ConnNotify
	refuse   map[string]bool
	dialed   []string
}

func NewDialer(clients ...*Client) *Dialer {
	d := &Dialer{
		clients:  make(map[string]*Client),
		notifies: make(map[string]ports.ConnNotify),
		refuse:   make(map[string]bool),
	}
	for _, c := range clients {
		d.clients[c.Host] = c
	}
	return d
}

func (d *Dialer) Dial(hostname string, notify ports.ConnNotify) (ports.PeerClient, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.dialed = append(d.dialed, hostname)
	if d.refuse[hostname] {
		return nil, ErrDialRefused
	}

	c, ok := d.clients[hostname]
	if !ok {
		c = NewClient(hostname, uuid.Nil)
		d.clients[hostname] = c
	}
	d.notifies[hostname] = notify
	return c, nil
}

func (d *Dialer) Refuse(hostname string) {
	d.mu.Lock()
	d.refuse[hostname] = true
	d.mu.Unlock()
}

func (d *Dialer) Client(hostname string) *Client {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.clients[hostname]
}

func (d *Dialer) Dialed() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.dialed))
	copy(out, d.dialed)
	return out
}

// Notify reports a connectivity change for the last connection to hostname.
// It returns false when hostname was never dialed.
func (d *Dialer) Notify(hostname string, connected bool) bool {
	d.mu.Lock()
	fn, ok := d.notifies[hostname]
	d.mu.Unlock()
	if !ok {
		return false
	}
	fn(context.Background(), connected)
	return true
}

var _ ports.Dialer = (*Dialer)(nil)
