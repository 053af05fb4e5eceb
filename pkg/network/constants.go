package network

import "time"

const (
	connTimeout  = 30 * time.Second
	maxMsgSize   = 1024 * 1024 // 1MB
	writeTimeout = 30 * time.Second

	quicALPN = "synapse-quic"
)
