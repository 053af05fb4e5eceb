package network

import (
	"context"
	"io"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/busybox42/synapse/pkg/protocol"
	"github.com/busybox42/synapse/pkg/types"
)

func getAvailablePort() (int, error) {
	addr := &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0}
	l, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

func itoa(i int) string {
	return strconv.Itoa(i)
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func setupTestTransport(t *testing.T) (*Transport, chan protocol.Envelope) {
	t.Helper()
	received := make(chan protocol.Envelope, 8)
	tr := NewTransport(&Config{ListenAddr: "127.0.0.1:0"}, quietLogger())
	tr.SetHandler(func(env protocol.Envelope) {
		received <- env
	})
	require.NoError(t, tr.Start())
	t.Cleanup(func() { tr.Stop() })
	return tr, received
}

func TestTransportSendReceive(t *testing.T) {
	receiver, received := setupTestTransport(t)
	sender, _ := setupTestTransport(t)

	find := protocol.NewOperation(protocol.OpPut, "k", protocol.StringValue("v"), "dst", "client", 3).
		StartFind(protocol.NewTag(), 5, sender.Addr())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, sender.Send(ctx, protocol.Wrap(find), receiver.Addr()))
	require.NoError(t, sender.Send(ctx, protocol.Join("net1", sender.Addr()), receiver.Addr()))

	for _, want := range []protocol.Kind{protocol.KindFind, protocol.KindJoin} {
		select {
		case env := <-received:
			require.Equal(t, want, env.Kind)
			if want == protocol.KindFind {
				require.Equal(t, find, *env.Message)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("Timeout waiting for %s", want)
		}
	}

	var peers []types.Address
	sender.RangePeers(func(addr types.Address, peer *Peer) bool {
		require.True(t, peer.IsConnected())
		peers = append(peers, addr)
		return true
	})
	require.Equal(t, []types.Address{receiver.Addr()}, peers)
}

func TestTransportSendUnreachable(t *testing.T) {
	sender, _ := setupTestTransport(t)

	port, err := getAvailablePort()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = sender.Send(ctx, protocol.Invite("net1", "B"), types.Address("127.0.0.1:"+itoa(port)))
	require.Error(t, err)
}

func TestTransportDropsOversizedFrame(t *testing.T) {
	received := make(chan protocol.Envelope, 1)
	tr := NewTransport(&Config{ListenAddr: "127.0.0.1:0", MaxMessageSize: 32}, quietLogger())
	tr.SetHandler(func(env protocol.Envelope) { received <- env })
	require.NoError(t, tr.Start())
	defer tr.Stop()

	conn, err := net.Dial("tcp", tr.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, writeFrame(conn, make([]byte, 64)))

	select {
	case <-received:
		t.Fatal("oversized frame must not be delivered")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestTransportStopWithoutStart(t *testing.T) {
	tr := NewTransport(nil, quietLogger())
	require.NoError(t, tr.Stop())
	require.Equal(t, types.Address(""), tr.Addr())
}
