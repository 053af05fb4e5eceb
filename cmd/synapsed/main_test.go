package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/busybox42/synapse/internal/config"
)

func TestLoadConfigFlagOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "synapse.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[node]
listen = "127.0.0.1:9000"

[transport]
kind = "tcp"
`), 0600))

	tests := []struct {
		name      string
		args      []string
		listen    string
		transport string
		wantErr   bool
	}{
		{
			name:      "file only",
			args:      []string{"-config", path},
			listen:    "127.0.0.1:9000",
			transport: config.TransportTCP,
		},
		{
			name:      "flags override file",
			args:      []string{"-config", path, "-listen", "127.0.0.1:9100", "-transport", "quic"},
			listen:    "127.0.0.1:9100",
			transport: config.TransportQUIC,
		},
		{
			name:    "invalid transport",
			args:    []string{"-config", path, "-transport", "udp"},
			wantErr: true,
		},
		{
			name:    "tor over quic",
			args:    []string{"-transport", "quic", "-tor"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := parseFlags(tt.args)
			require.NoError(t, err)

			cfg, err := loadConfig(f)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.listen, cfg.Node.Listen)
			require.Equal(t, tt.transport, cfg.Transport.Kind)
		})
	}
}

func TestParseFlagsRejectsUnknown(t *testing.T) {
	_, err := parseFlags([]string{"-nope"})
	require.Error(t, err)
}
