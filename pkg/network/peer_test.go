package network

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/busybox42/synapse/pkg/protocol"
	"github.com/busybox42/synapse/pkg/types"
)

func TestNewPeer(t *testing.T) {
	addr := types.Address("127.0.0.1:8080")
	peer := NewPeer(addr, nil)

	require.NotNil(t, peer)
	require.Equal(t, addr, peer.Address)
	require.False(t, peer.IsConnected())
}

func TestPeerConnection(t *testing.T) {
	listener, err := net.ListenTCP("tcp", &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	require.NoError(t, err)
	defer listener.Close()

	peer := NewPeer(types.Address(listener.Addr().String()), nil)

	errChan := make(chan error, 1)
	go func() {
		errChan <- peer.Connect(context.Background())
	}()

	conn, err := listener.AcceptTCP()
	require.NoError(t, err)
	defer conn.Close()

	select {
	case err := <-errChan:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Connection timeout")
	}

	require.True(t, peer.IsConnected())
	require.NoError(t, peer.Disconnect())
	require.False(t, peer.IsConnected())
}

func TestPeerSendEnvelope(t *testing.T) {
	listener, err := net.ListenTCP("tcp", &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	require.NoError(t, err)
	defer listener.Close()

	received := make(chan protocol.Envelope, 1)
	go func() {
		conn, err := listener.AcceptTCP()
		if err != nil {
			return
		}
		defer conn.Close()
		data, err := readFrame(conn, maxMsgSize)
		if err != nil {
			return
		}
		env, err := protocol.DeserializeEnvelope(data)
		if err != nil {
			return
		}
		received <- env
	}()

	peer := NewPeer(types.Address(listener.Addr().String()), nil)
	defer peer.Disconnect()

	require.NoError(t, peer.SendEnvelope(context.Background(), protocol.Invite("net1", "B")))

	select {
	case env := <-received:
		require.Equal(t, protocol.KindInvite, env.Kind)
		require.Equal(t, types.Address("net1"), env.Membership.Network)
	case <-time.After(2 * time.Second):
		t.Fatal("Timeout waiting for envelope")
	}
}

func TestPeerConnectRefused(t *testing.T) {
	port, err := getAvailablePort()
	require.NoError(t, err)

	peer := NewPeer(types.Address(net.JoinHostPort("127.0.0.1", itoa(port))), nil)
	err = peer.SendEnvelope(context.Background(), protocol.Join("net1", "B"))
	require.Error(t, err)
	require.False(t, peer.IsConnected())
}
