package main

import (
	"bufio"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/torpydo/torpydo/client"
	"github.com/torpydo/torpydo/tpdp"
)

func main() {
	var (
		poolIndexHost = flag.String("pool-index-host", "", "PoolIndex host to sync known nodes from")
		poolIndexPort = flag.Uint("pool-index-port", 9000, "PoolIndex port")
		hops          = flag.String("hops", "", "comma-separated host:port list of hops to route through, in order; the first is dialed directly and the rest are reached through it (skips random path selection)")
		hopCount      = flag.Uint("n", 2, "number of random hops to select when -hops is not given")
		destHost      = flag.String("dest-host", "", "final destination host")
		destPort      = flag.Uint("dest-port", 0, "final destination port")
	)
	flag.Parse()

	if *destHost == "" || *destPort == 0 {
		fmt.Fprintln(os.Stderr, "usage: torpydo-client -dest-host H -dest-port P [-hops h1,h2,...] [-pool-index-host H -pool-index-port P -n N]")
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	c := client.New()
	c.SetLogger(logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nClosing...")
		_ = c.Close()
		os.Exit(0)
	}()

	dest := tpdp.NodeEndpoint{Host: *destHost, Port: uint16(*destPort)}

	if err := buildPath(c, *hops, *poolIndexHost, uint16(*poolIndexPort), int(*hopCount), dest); err != nil {
		fmt.Fprintf(os.Stderr, "path build failed: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = c.Close() }()

	fmt.Println("Connected. Type lines to send; Ctrl-D to quit.")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Text() + "\n"
		if err := c.Send([]byte(line)); err != nil {
			fmt.Fprintf(os.Stderr, "send error: %v\n", err)
			return
		}
		reply, err := c.Receive(4096)
		if err != nil {
			fmt.Fprintf(os.Stderr, "receive error: %v\n", err)
			return
		}
		fmt.Printf("< %s", reply)
	}
}

func buildPath(c *client.Client, hopsFlag, poolIndexHost string, poolIndexPort uint16, hopCount int, dest tpdp.NodeEndpoint) error {
	if hopsFlag != "" {
		endpoints, err := parseEndpoints(hopsFlag)
		if err != nil {
			return err
		}
		for i, hop := range endpoints {
			next := dest
			if i < len(endpoints)-1 {
				next = endpoints[i+1]
			}
			if i == 0 {
				if err := c.Connect(hop, next); err != nil {
					return err
				}
				continue
			}
			if err := c.NextDestination(next); err != nil {
				return err
			}
		}
		return nil
	}

	if poolIndexHost == "" {
		return fmt.Errorf("either -hops or -pool-index-host must be given")
	}
	if err := c.SyncNodesList(poolIndexHost, poolIndexPort); err != nil {
		return err
	}
	return c.RandomPathToDestination(dest, hopCount)
}

func parseEndpoints(list string) ([]tpdp.NodeEndpoint, error) {
	parts := strings.Split(list, ",")
	out := make([]tpdp.NodeEndpoint, 0, len(parts))
	for _, p := range parts {
		host, portStr, err := splitHostPort(p)
		if err != nil {
			return nil, err
		}
		port, err := strconv.ParseUint(portStr, 10, 16)
		if err != nil {
			return nil, fmt.Errorf("invalid port in %q: %w", p, err)
		}
		out = append(out, tpdp.NodeEndpoint{Host: host, Port: uint16(port)})
	}
	return out, nil
}

func splitHostPort(hostport string) (string, string, error) {
	idx := strings.LastIndex(hostport, ":")
	if idx < 0 {
		return "", "", fmt.Errorf("expected host:port, got %q", hostport)
	}
	return hostport[:idx], hostport[idx+1:], nil
}
