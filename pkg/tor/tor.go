package tor

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/cretz/bine/tor"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/proxy"
)

const maxRetries = 3

// Manager runs an embedded Tor process that publishes the node's listen
// port as an onion service and offers a SOCKS5 dialer for outbound sends.
type Manager struct {
	TorInstance  *tor.Tor
	OnionAddress string
	SocksPort    int
	DataDir      string
	log          logrus.FieldLogger
}

// Start launches Tor and exposes localPort as a v3 hidden service on the
// same remote port.
func Start(ctx context.Context, localPort int, log logrus.FieldLogger) (*Manager, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	log = log.WithField("component", "tor")
	log.Info("Starting embedded Tor")

	for attempt := 1; attempt <= maxRetries; attempt++ {
		socksPort, err := freePort()
		if err != nil {
			return nil, err
		}

		dataDir, err := os.MkdirTemp("", "synapse-tor-*")
		if err != nil {
			return nil, fmt.Errorf("failed to create temporary Tor data directory: %w", err)
		}

		m, err := start(ctx, localPort, socksPort, dataDir, log)
		if err != nil {
			os.RemoveAll(dataDir)
			log.Warnf("Attempt %d failed: %v", attempt, err)
			continue
		}
		return m, nil
	}

	return nil, fmt.Errorf("failed to start Tor after %d attempts", maxRetries)
}

func start(ctx context.Context, localPort, socksPort int, dataDir string, log logrus.FieldLogger) (*Manager, error) {
	t, err := tor.Start(ctx, &tor.StartConf{
		DataDir:   dataDir,
		ExtraArgs: []string{"--SocksPort", strconv.Itoa(socksPort)},
	})
	if err != nil {
		return nil, fmt.Errorf("start tor on socks port %d: %w", socksPort, err)
	}

	if err := t.EnableNetwork(ctx, true); err != nil {
		t.Close()
		return nil, fmt.Errorf("enable network: %w", err)
	}

	socksAddress := net.JoinHostPort("127.0.0.1", strconv.Itoa(socksPort))
	if !waitForSocks5Proxy(socksAddress, 10*time.Second) {
		t.Close()
		return nil, fmt.Errorf("SOCKS5 proxy did not start on %s", socksAddress)
	}

	hs, err := t.Listen(ctx, &tor.ListenConf{
		LocalPort:   localPort,
		RemotePorts: []int{localPort},
		Version3:    true,
	})
	if err != nil {
		t.Close()
		return nil, fmt.Errorf("create hidden service: %w", err)
	}

	onion := hs.ID + ".onion"
	log.Infof("Hidden service address: %s", onion)
	return &Manager{
		TorInstance:  t,
		OnionAddress: onion,
		SocksPort:    socksPort,
		DataDir:      dataDir,
		log:          log,
	}, nil
}

// Address is the onion host:port other nodes should use to reach us.
func (m *Manager) Address(port int) string {
	return net.JoinHostPort(m.OnionAddress, strconv.Itoa(port))
}

// Dialer returns a SOCKS5 dialer that routes TCP connections through Tor.
func (m *Manager) Dialer() (proxy.Dialer, error) {
	return socks5Dialer(m.SocksPort)
}

func socks5Dialer(socksPort int) (proxy.Dialer, error) {
	socksAddress := net.JoinHostPort("127.0.0.1", strconv.Itoa(socksPort))
	dialer, err := proxy.SOCKS5("tcp", socksAddress, nil, proxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
	}
	return dialer, nil
}

// Stop shuts down Tor and removes its data directory.
func (m *Manager) Stop() error {
	m.log.Info("Stopping Tor")
	if m.TorInstance != nil {
		if err := m.TorInstance.Close(); err != nil {
			return err
		}
	}
	if m.DataDir != "" {
		os.RemoveAll(m.DataDir)
	}
	return nil
}

func waitForSocks5Proxy(address string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn, err := net.Dial("tcp", address)
		if err == nil {
			conn.Close()
			return true
		}
		time.Sleep(500 * time.Millisecond)
	}
	return false
}

// freePort picks a random high port that is currently free to bind.
func freePort() (int, error) {
	for i := 0; i < 10; i++ {
		port := rand.Intn(16383) + 49152
		ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
		if err != nil {
			continue
		}
		ln.Close()
		return port, nil
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("no free port for SOCKS5: %w", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port, nil
}
