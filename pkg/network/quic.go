package network

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"math/big"
	"sync"
	"time"

	quic "github.com/quic-go/quic-go"
	"github.com/sirupsen/logrus"

	"github.com/busybox42/synapse/pkg/protocol"
	"github.com/busybox42/synapse/pkg/types"
)

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}

// selfSignedCert derives a deterministic certificate. QUIC requires TLS,
// but peers are not authenticated, so every node presents the same one.
func selfSignedCert() (tls.Certificate, error) {
	seed := sha256.Sum256([]byte("synapse-quic-node-key"))
	priv := ed25519.NewKeyFromSeed(seed[:])
	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		NotBefore:    time.Unix(0, 0),
		NotAfter:     time.Date(2100, time.January, 1, 0, 0, 0, 0, time.UTC),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
	}
	der, err := x509.CreateCertificate(zeroReader{}, &template, &template, priv.Public(), priv)
	if err != nil {
		return tls.Certificate{}, err
	}
	return tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  priv,
	}, nil
}

func serverTLSConfig() (*tls.Config, error) {
	cert, err := selfSignedCert()
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{quicALPN},
	}, nil
}

func clientTLSConfig() *tls.Config {
	return &tls.Config{
		InsecureSkipVerify: true,
		NextProtos:         []string{quicALPN},
	}
}

// QUICTransport sends each envelope on its own QUIC stream. Connections
// are cached per remote address.
type QUICTransport struct {
	config   *Config
	listener *quic.Listener
	handler  EnvelopeHandler
	log      logrus.FieldLogger

	mu     sync.Mutex
	conns  map[types.Address]quic.Connection
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewQUICTransport(config *Config, log logrus.FieldLogger) *QUICTransport {
	if config == nil {
		config = &Config{}
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &QUICTransport{
		config: config,
		log:    log.WithField("transport", "quic"),
		conns:  make(map[types.Address]quic.Connection),
	}
}

func (t *QUICTransport) SetHandler(handler EnvelopeHandler) {
	t.handler = handler
}

func (t *QUICTransport) Start() error {
	tlsConf, err := serverTLSConfig()
	if err != nil {
		return err
	}
	listener, err := quic.ListenAddr(t.config.ListenAddr, tlsConf, nil)
	if err != nil {
		return fmt.Errorf("quic listen on %s: %w", t.config.ListenAddr, err)
	}
	t.listener = listener
	t.log.Infof("Listening on %s", listener.Addr())

	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel

	t.wg.Add(1)
	go t.acceptLoop(ctx)
	return nil
}

func (t *QUICTransport) Addr() types.Address {
	if t.listener == nil {
		return ""
	}
	return types.Address(t.listener.Addr().String())
}

func (t *QUICTransport) acceptLoop(ctx context.Context) {
	defer t.wg.Done()
	for {
		conn, err := t.listener.Accept(ctx)
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, quic.ErrServerClosed) {
				t.log.Warnf("quic accept error: %v", err)
			}
			return
		}
		t.wg.Add(1)
		go t.serveConn(ctx, conn)
	}
}

func (t *QUICTransport) serveConn(ctx context.Context, conn quic.Connection) {
	defer t.wg.Done()
	defer conn.CloseWithError(0, "")
	for {
		stream, err := conn.AcceptStream(ctx)
		if err != nil {
			return
		}
		t.readStream(stream)
	}
}

func (t *QUICTransport) readStream(stream quic.Stream) {
	defer stream.Close()

	limit := int64(t.config.maxMessageSize())
	data, err := io.ReadAll(io.LimitReader(stream, limit+1))
	if err != nil && !errors.Is(err, io.EOF) {
		t.log.Warnf("quic read error: %v", err)
		return
	}
	if int64(len(data)) > limit {
		t.log.Warnf("Dropping stream: %v", ErrFrameTooLarge)
		return
	}
	if len(data) == 0 {
		return
	}

	env, err := protocol.DeserializeEnvelope(data)
	if err != nil {
		t.log.Warnf("Dropping malformed envelope: %v", err)
		return
	}
	if t.handler != nil {
		t.handler(env)
	}
}

func (t *QUICTransport) dial(ctx context.Context, to types.Address) (quic.Connection, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if conn, ok := t.conns[to]; ok && conn.Context().Err() == nil {
		return conn, nil
	}
	conn, err := quic.DialAddr(ctx, to.String(), clientTLSConfig(), nil)
	if err != nil {
		return nil, err
	}
	t.conns[to] = conn
	return conn, nil
}

func (t *QUICTransport) drop(to types.Address, conn quic.Connection) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conns[to] == conn {
		delete(t.conns, to)
	}
	conn.CloseWithError(0, "")
}

func (t *QUICTransport) Send(ctx context.Context, env protocol.Envelope, to types.Address) error {
	data, err := env.Serialize()
	if err != nil {
		return fmt.Errorf("serialization error: %w", err)
	}

	conn, err := t.dial(ctx, to)
	if err != nil {
		return fmt.Errorf("send to %s: %w", to, err)
	}

	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		t.drop(to, conn)
		return fmt.Errorf("send to %s: open stream: %w", to, err)
	}
	if _, err := stream.Write(data); err != nil {
		t.drop(to, conn)
		return fmt.Errorf("send to %s: %w", to, err)
	}
	if err := stream.Close(); err != nil {
		return fmt.Errorf("send to %s: close stream: %w", to, err)
	}
	return nil
}

func (t *QUICTransport) Stop() error {
	if t.cancel != nil {
		t.cancel()
	}

	t.mu.Lock()
	for addr, conn := range t.conns {
		conn.CloseWithError(0, "shutdown")
		delete(t.conns, addr)
	}
	t.mu.Unlock()

	var err error
	if t.listener != nil {
		err = t.listener.Close()
	}
	t.wg.Wait()
	return err
}
