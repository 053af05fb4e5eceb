package network

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/net/proxy"

	"github.com/busybox42/synapse/pkg/protocol"
	"github.com/busybox42/synapse/pkg/types"
)

// Peer is an outbound connection to one remote node.
type Peer struct {
	Address    types.Address
	dialer     proxy.Dialer
	conn       net.Conn
	mu         sync.Mutex
	connected  bool
	lastActive time.Time
}

func NewPeer(addr types.Address, dialer proxy.Dialer) *Peer {
	if dialer == nil {
		dialer = &net.Dialer{Timeout: connTimeout}
	}
	return &Peer{
		Address:    addr,
		dialer:     dialer,
		lastActive: time.Now(),
	}
}

func (p *Peer) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connectLocked(ctx)
}

func (p *Peer) connectLocked(ctx context.Context) error {
	if p.connected && p.conn != nil {
		return nil
	}

	var (
		conn net.Conn
		err  error
	)
	if cd, ok := p.dialer.(proxy.ContextDialer); ok {
		conn, err = cd.DialContext(ctx, "tcp", p.Address.String())
	} else {
		conn, err = p.dialer.Dial("tcp", p.Address.String())
	}
	if err != nil {
		p.connected = false
		p.conn = nil
		return fmt.Errorf("connection failed: %w", err)
	}

	p.conn = conn
	p.connected = true
	p.lastActive = time.Now()
	return nil
}

func (p *Peer) Disconnect() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.disconnectLocked()
}

func (p *Peer) disconnectLocked() error {
	if p.conn == nil {
		return nil
	}
	err := p.conn.Close()
	p.conn = nil
	p.connected = false
	return err
}

func (p *Peer) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected && p.conn != nil
}

func (p *Peer) LastActive() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastActive
}

// SendEnvelope connects if needed and writes one frame. A failed write
// drops the connection so the next send redials.
func (p *Peer) SendEnvelope(ctx context.Context, env protocol.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.connectLocked(ctx); err != nil {
		return err
	}

	deadline := time.Now().Add(writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	p.conn.SetWriteDeadline(deadline)

	if err := writeEnvelope(p.conn, env); err != nil {
		p.disconnectLocked()
		return err
	}

	p.lastActive = time.Now()
	return nil
}
