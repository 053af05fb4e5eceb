// Package daemon assembles a running node from configuration: transport,
// optional Tor onion service, and the server actor.
package daemon

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/busybox42/synapse/internal/config"
	"github.com/busybox42/synapse/pkg/network"
	"github.com/busybox42/synapse/pkg/overlay"
	"github.com/busybox42/synapse/pkg/protocol"
	"github.com/busybox42/synapse/pkg/server"
	"github.com/busybox42/synapse/pkg/tor"
	"github.com/busybox42/synapse/pkg/types"
)

// Transport is what the daemon needs from a wire transport.
type Transport interface {
	overlay.Transport
	SetHandler(handler network.EnvelopeHandler)
	Start() error
	Stop() error
	Addr() types.Address
}

type Daemon struct {
	cfg        *config.Config
	transport  Transport
	server     *server.Server
	torManager *tor.Manager
	address    types.Address
	ready      chan struct{}
	log        logrus.FieldLogger
}

// New builds the transport and starts Tor when configured. Nothing
// listens until Start.
func New(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (*Daemon, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	d := &Daemon{
		cfg:     cfg,
		address: cfg.Address(),
		ready:   make(chan struct{}),
		log:     log,
	}

	netConfig := &network.Config{
		ListenAddr:     cfg.Node.Listen,
		MaxMessageSize: cfg.Transport.MaxMessageSize,
	}

	if cfg.Transport.Tor {
		if err := d.initializeTor(ctx, netConfig); err != nil {
			return nil, fmt.Errorf("failed to initialize Tor: %w", err)
		}
	}

	switch cfg.Transport.Kind {
	case config.TransportQUIC:
		d.transport = network.NewQUICTransport(netConfig, log)
	default:
		d.transport = network.NewTransport(netConfig, log)
	}
	return d, nil
}

func (d *Daemon) initializeTor(ctx context.Context, netConfig *network.Config) error {
	_, portStr, err := net.SplitHostPort(d.cfg.Node.Listen)
	if err != nil {
		return fmt.Errorf("node.listen: %w", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port == 0 {
		return fmt.Errorf("node.listen needs a fixed port for an onion service, got %q", portStr)
	}

	m, err := tor.Start(ctx, port, d.log)
	if err != nil {
		return err
	}
	dialer, err := m.Dialer()
	if err != nil {
		m.Stop()
		return err
	}

	d.torManager = m
	netConfig.Dialer = dialer
	if d.cfg.Node.Address == "" {
		d.address = types.Address(m.Address(port))
	}
	return nil
}

// Start opens the listener, starts the server and replays bootstrap
// invites. With a ":0" listen address and no explicit node.address the
// node advertises the bound address.
func (d *Daemon) Start(ctx context.Context) error {
	policy, err := d.cfg.Policy.Build()
	if err != nil {
		return err
	}

	d.transport.SetHandler(d.deliver)
	if err := d.transport.Start(); err != nil {
		close(d.ready)
		return err
	}
	if d.cfg.Node.Address == "" && d.torManager == nil {
		d.address = d.transport.Addr()
	}

	d.server = server.New(server.Config{
		Address:   d.address,
		Transport: d.transport,
		Policy:    policy,
		MaxTTL:    d.cfg.Routing.MaxTTL,
		Tags:      overlay.NewTagSet(d.cfg.Routing.MaxTags, d.cfg.Routing.TagWindow),
		InboxSize: d.cfg.Routing.InboxSize,
		Logger:    d.log,
	})
	d.server.Start()
	close(d.ready)

	for _, inv := range d.cfg.Bootstrap {
		admitted, err := d.server.ReceiveInvite(ctx, types.Address(inv.Network), types.Address(inv.Peer))
		if err != nil {
			return fmt.Errorf("bootstrap invite %s: %w", inv.Network, err)
		}
		if !admitted {
			d.log.WithField("network", inv.Network).Warn("Bootstrap invite rejected by policy")
		}
	}

	d.log.WithField("node", d.address).Info("Node started")
	return nil
}

// deliver holds inbound envelopes until the server exists, since the
// advertised address is only known once the listener is bound.
func (d *Daemon) deliver(env protocol.Envelope) {
	<-d.ready
	if d.server != nil {
		d.server.Deliver(env)
	}
}

func (d *Daemon) Server() *server.Server {
	return d.server
}

func (d *Daemon) Transport() Transport {
	return d.transport
}

func (d *Daemon) Address() types.Address {
	return d.address
}

// Shutdown tears down in reverse start order.
func (d *Daemon) Shutdown() {
	if d.server != nil {
		d.server.Stop()
	}
	if d.transport != nil {
		if err := d.transport.Stop(); err != nil {
			d.log.Errorf("Error stopping transport: %v", err)
		}
	}
	if d.torManager != nil {
		if err := d.torManager.Stop(); err != nil {
			d.log.Errorf("Error stopping Tor: %v", err)
		}
	}
}
