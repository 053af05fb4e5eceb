package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/busybox42/synapse/pkg/protocol"
	"github.com/busybox42/synapse/pkg/types"
)

// Transport carries envelopes over length-prefixed TCP frames. Outbound
// connections are cached per address.
type Transport struct {
	config   *Config
	listener net.Listener
	handler  EnvelopeHandler
	peers    sync.Map // types.Address -> *Peer
	log      logrus.FieldLogger

	mu    sync.Mutex
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup
}

func NewTransport(config *Config, log logrus.FieldLogger) *Transport {
	if config == nil {
		config = &Config{}
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Transport{
		config: config,
		log:    log.WithField("transport", "tcp"),
		conns:  make(map[net.Conn]struct{}),
	}
}

// SetHandler installs the inbound handler. It must be called before Start.
func (t *Transport) SetHandler(handler EnvelopeHandler) {
	t.handler = handler
}

func (t *Transport) Start() error {
	listener, err := net.Listen("tcp", t.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", t.config.ListenAddr, err)
	}
	t.listener = listener
	t.log.Infof("Listening on %s", listener.Addr())

	t.wg.Add(1)
	go t.acceptLoop()
	return nil
}

// Addr is the bound listen address, valid after Start.
func (t *Transport) Addr() types.Address {
	if t.listener == nil {
		return ""
	}
	return types.Address(t.listener.Addr().String())
}

func (t *Transport) acceptLoop() {
	defer t.wg.Done()
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			t.log.Warnf("Failed to accept connection: %v", err)
			continue
		}

		t.mu.Lock()
		t.conns[conn] = struct{}{}
		t.mu.Unlock()

		t.wg.Add(1)
		go t.handleConnection(conn)
	}
}

func (t *Transport) handleConnection(conn net.Conn) {
	defer t.wg.Done()
	defer func() {
		t.mu.Lock()
		delete(t.conns, conn)
		t.mu.Unlock()
		conn.Close()
	}()

	limit := t.config.maxMessageSize()
	for {
		data, err := readFrame(conn, limit)
		if err != nil {
			if errors.Is(err, ErrFrameTooLarge) {
				t.log.Warnf("Closing connection from %s: %v", conn.RemoteAddr(), err)
			}
			return
		}

		env, err := protocol.DeserializeEnvelope(data)
		if err != nil {
			t.log.Warnf("Dropping malformed envelope from %s: %v", conn.RemoteAddr(), err)
			continue
		}

		if t.handler != nil {
			t.handler(env)
		}
	}
}

func (t *Transport) Send(ctx context.Context, env protocol.Envelope, to types.Address) error {
	value, _ := t.peers.LoadOrStore(to, NewPeer(to, t.config.Dialer))
	peer := value.(*Peer)
	if err := peer.SendEnvelope(ctx, env); err != nil {
		return fmt.Errorf("send to %s: %w", to, err)
	}
	return nil
}

// RangePeers iterates outbound peers until fn returns false.
func (t *Transport) RangePeers(fn func(addr types.Address, peer *Peer) bool) {
	t.peers.Range(func(key, value interface{}) bool {
		return fn(key.(types.Address), value.(*Peer))
	})
}

func (t *Transport) Stop() error {
	var err error
	if t.listener != nil {
		err = t.listener.Close()
	}

	t.mu.Lock()
	for conn := range t.conns {
		conn.Close()
	}
	t.mu.Unlock()

	t.peers.Range(func(_, value interface{}) bool {
		value.(*Peer).Disconnect()
		return true
	})

	t.wg.Wait()
	return err
}
