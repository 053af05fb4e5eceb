package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/busybox42/synapse/internal/config"
	"github.com/busybox42/synapse/internal/daemon"
	"github.com/busybox42/synapse/pkg/network"
	"github.com/busybox42/synapse/pkg/overlay"
	"github.com/busybox42/synapse/pkg/protocol"
	"github.com/busybox42/synapse/pkg/types"
)

const (
	prompt         = "synapse> "
	defaultBudget  = 1
	commandTimeout = 10 * time.Second
)

type ResultRecord struct {
	Timestamp time.Time
	Op        protocol.Op
	Key       string
	Holder    types.Address
	Value     string
	Found     bool
}

type SynapseCLI struct {
	daemon    *daemon.Daemon
	out       io.Writer
	history   []ResultRecord
	historyMu sync.RWMutex
}

func newSynapseCLI(d *daemon.Daemon, out io.Writer) *SynapseCLI {
	return &SynapseCLI{
		daemon:  d,
		out:     out,
		history: make([]ResultRecord, 0),
	}
}

func (cli *SynapseCLI) addToHistory(r overlay.Result) {
	cli.historyMu.Lock()
	defer cli.historyMu.Unlock()
	cli.history = append(cli.history, ResultRecord{
		Timestamp: time.Now(),
		Op:        r.Op,
		Key:       r.Key,
		Holder:    r.Holder,
		Value:     r.Value,
		Found:     r.Found,
	})
}

// watchResults prints resolutions as they arrive and records them.
func (cli *SynapseCLI) watchResults(results <-chan overlay.Result) {
	for r := range results {
		cli.addToHistory(r)

		fmt.Fprint(cli.out, "\r")
		if r.Found {
			fmt.Fprintf(cli.out, "\n[%s] %s %s = %s (held by %s)\n",
				time.Now().Format("2006-01-02 15:04:05"), r.Op, r.Key, r.Value, r.Holder)
		} else {
			fmt.Fprintf(cli.out, "\n[%s] %s %s: not found at %s\n",
				time.Now().Format("2006-01-02 15:04:05"), r.Op, r.Key, r.Holder)
		}
		fmt.Fprint(cli.out, prompt)
	}
}

// parseOperation reads "<key> [budget]" for get and
// "<key> <value> [budget]" for put.
func parseOperation(op protocol.Op, args string) (string, *string, int, error) {
	fields := strings.Fields(args)
	need := 1
	if op == protocol.OpPut {
		need = 2
	}
	if len(fields) < need || len(fields) > need+1 {
		return "", nil, 0, fmt.Errorf("expected %d or %d arguments, got %d", need, need+1, len(fields))
	}

	var value *string
	if op == protocol.OpPut {
		value = protocol.StringValue(fields[1])
	}

	budget := defaultBudget
	if len(fields) == need+1 {
		b, err := strconv.Atoi(fields[need])
		if err != nil {
			return "", nil, 0, fmt.Errorf("invalid budget %q: %w", fields[need], err)
		}
		budget = b
	}
	return fields[0], value, budget, nil
}

// parseMembership reads "<network> [peer]".
func parseMembership(args string) (types.Address, types.Address, error) {
	fields := strings.Fields(args)
	switch len(fields) {
	case 1:
		return types.Address(fields[0]), "", nil
	case 2:
		return types.Address(fields[0]), types.Address(fields[1]), nil
	default:
		return "", "", fmt.Errorf("expected a network and an optional peer")
	}
}

func (cli *SynapseCLI) submit(ctx context.Context, command, args string) {
	op, err := protocol.ParseOp(command)
	if err != nil {
		fmt.Fprintf(cli.out, "Unknown operation: %s\n", command)
		return
	}
	key, value, budget, err := parseOperation(op, args)
	if err != nil {
		if op == protocol.OpPut {
			fmt.Fprintln(cli.out, "Usage: put <key> <value> [budget]")
		} else {
			fmt.Fprintln(cli.out, "Usage: get <key> [budget]")
		}
		return
	}

	srv := cli.daemon.Server()
	if err := srv.SubmitOperation(ctx, op, key, value, srv.Address(), budget); err != nil {
		fmt.Fprintf(cli.out, "Failed to submit %s: %v\n", op, err)
		return
	}
	fmt.Fprintf(cli.out, "%s %s submitted\n", op, key)
}

func (cli *SynapseCLI) membership(ctx context.Context, command, args string) {
	network, peer, err := parseMembership(args)
	if err != nil {
		fmt.Fprintf(cli.out, "Usage: %s <network> [peer]\n", command)
		return
	}

	srv := cli.daemon.Server()
	receive := srv.ReceiveInvite
	if command == "join" {
		receive = srv.ReceiveJoin
	}
	admitted, err := receive(ctx, network, peer)
	if err != nil {
		fmt.Fprintf(cli.out, "Failed to %s %s: %v\n", command, network, err)
		return
	}
	if !admitted {
		fmt.Fprintf(cli.out, "Membership rejected: %s\n", network)
		return
	}
	fmt.Fprintf(cli.out, "Joined network: %s\n", network)
}

// handleCommand runs one REPL line and reports whether the CLI should exit.
func (cli *SynapseCLI) handleCommand(input string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	parts := strings.SplitN(strings.TrimSpace(input), " ", 2)
	command := parts[0]
	var args string
	if len(parts) > 1 {
		args = strings.TrimSpace(parts[1])
	}

	switch command {
	case "":

	case "put", "get":
		cli.submit(ctx, command, args)

	case "invite", "join":
		cli.membership(ctx, command, args)

	case "neighbors":
		neighbors, err := cli.daemon.Server().Neighbors(ctx)
		if err != nil {
			fmt.Fprintf(cli.out, "Failed to read neighbors: %v\n", err)
			break
		}
		if len(neighbors) == 0 {
			fmt.Fprintln(cli.out, "No neighbors")
			break
		}
		fmt.Fprintln(cli.out, "Neighbors:")
		for _, n := range neighbors {
			fmt.Fprintf(cli.out, "  %s\n", n)
		}

	case "shard":
		shard, err := cli.daemon.Server().Shard(ctx)
		if err != nil {
			fmt.Fprintf(cli.out, "Failed to read shard: %v\n", err)
			break
		}
		if len(shard) == 0 {
			fmt.Fprintln(cli.out, "Shard is empty")
			break
		}
		holders := make([]string, 0, len(shard))
		for h := range shard {
			holders = append(holders, string(h))
		}
		sort.Strings(holders)
		for _, h := range holders {
			entries := shard[types.Address(h)]
			keys := make([]string, 0, len(entries))
			for k := range entries {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Fprintf(cli.out, "%s: %s = %s\n", h, k, entries[k])
			}
		}

	case "history":
		cli.historyMu.RLock()
		if len(cli.history) == 0 {
			fmt.Fprintln(cli.out, "No result history")
		} else {
			for _, r := range cli.history {
				status := "found"
				if !r.Found {
					status = "not found"
				}
				fmt.Fprintf(cli.out, "[%s] %s %s = %s @ %s (%s)\n",
					r.Timestamp.Format("15:04:05"), r.Op, r.Key, r.Value, r.Holder, status)
			}
		}
		cli.historyMu.RUnlock()

	case "peers":
		tcp, ok := cli.daemon.Transport().(*network.Transport)
		if !ok {
			fmt.Fprintln(cli.out, "Peer listing is only available on the tcp transport")
			break
		}
		fmt.Fprintln(cli.out, "Outbound peers:")
		tcp.RangePeers(func(addr types.Address, peer *network.Peer) bool {
			fmt.Fprintf(cli.out, "Peer %s (connected: %v, last active: %s)\n",
				addr, peer.IsConnected(), peer.LastActive().Format("15:04:05"))
			return true
		})

	case "status":
		neighbors, err := cli.daemon.Server().Neighbors(ctx)
		if err != nil {
			fmt.Fprintf(cli.out, "Failed to read status: %v\n", err)
			break
		}
		fmt.Fprintln(cli.out, "Node Status:")
		fmt.Fprintf(cli.out, "Address: %s\n", cli.daemon.Address())
		fmt.Fprintf(cli.out, "Neighbors: %d\n", len(neighbors))
		if tcp, ok := cli.daemon.Transport().(*network.Transport); ok {
			var connected, total int
			tcp.RangePeers(func(_ types.Address, peer *network.Peer) bool {
				total++
				if peer.IsConnected() {
					connected++
				}
				return true
			})
			fmt.Fprintf(cli.out, "Connected Peers: %d/%d\n", connected, total)
		}

	case "exit":
		return true

	case "help":
		fmt.Fprintln(cli.out, "Available commands:")
		fmt.Fprintln(cli.out, "  put <key> <value> [budget]   - Store a value across the overlay")
		fmt.Fprintln(cli.out, "  get <key> [budget]           - Look up a key")
		fmt.Fprintln(cli.out, "  invite <network> [peer]      - Offer this node a neighbor network")
		fmt.Fprintln(cli.out, "  join <network> [peer]        - Join a neighbor network")
		fmt.Fprintln(cli.out, "  neighbors                    - List neighbor networks")
		fmt.Fprintln(cli.out, "  peers                        - List outbound transport peers")
		fmt.Fprintln(cli.out, "  shard                        - Show the local responsibility index")
		fmt.Fprintln(cli.out, "  history                      - Show resolved results")
		fmt.Fprintln(cli.out, "  status                       - Show node status")
		fmt.Fprintln(cli.out, "  help                         - Show this help message")
		fmt.Fprintln(cli.out, "  exit                         - Exit the application")

	default:
		fmt.Fprintf(cli.out, "Unknown command: %s. Type 'help' for usage.\n", command)
	}
	return false
}

func (cli *SynapseCLI) run(in io.Reader) error {
	fmt.Fprintf(cli.out, "Local Node: %s\n", cli.daemon.Address())

	reader := bufio.NewReader(in)
	for {
		fmt.Fprint(cli.out, prompt)
		input, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		if cli.handleCommand(input) {
			return nil
		}
	}
}

func main() {
	configPath := flag.String("config", "", "Path to synapse.toml")
	listen := flag.String("listen", "", "Listen address (random local port without a config file)")
	transport := flag.String("transport", "", "Transport: tcp or quic")
	useTor := flag.Bool("tor", false, "Publish the node as a Tor onion service")
	verbose := flag.Bool("v", false, "Log routing activity to stderr")
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	log.SetLevel(logrus.WarnLevel)
	if *verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	switch {
	case *listen != "":
		cfg.Node.Listen = *listen
	case *configPath == "":
		cfg.Node.Listen = "127.0.0.1:0"
	}
	if *transport != "" {
		cfg.Transport.Kind = *transport
	}
	cfg.Transport.Tor = cfg.Transport.Tor || *useTor
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	ctx := context.Background()
	d, err := daemon.New(ctx, cfg, log)
	if err != nil {
		log.Fatalf("Failed to create node: %v", err)
	}
	if err := d.Start(ctx); err != nil {
		d.Shutdown()
		log.Fatalf("Failed to start node: %v", err)
	}
	defer d.Shutdown()

	cli := newSynapseCLI(d, os.Stdout)
	go cli.watchResults(d.Server().Results())

	if err := cli.run(os.Stdin); err != nil {
		log.Errorf("CLI error: %v", err)
	}
}
