package symi

import (
	"context"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"
)

// Gateway scan constants.
const (
	// scanWorkerCount bounds concurrent probes during a sweep.
	scanWorkerCount = 32

	// scanDialTimeout is the per-host connection timeout. Hosts that
	// are not gateways usually refuse or time out quickly.
	scanDialTimeout = 500 * time.Millisecond

	// scanReadTimeout is how long to wait for a probe response.
	scanReadTimeout = 1 * time.Second
)

// ScanGateways sweeps a /24 network for Symi gateways.
//
// Each host is probed on the gateway port with a discovery frame; a
// host answering with a frame that starts with the protocol header is
// reported as a gateway. The sweep is best-effort: unreachable hosts
// and malformed answers are silently skipped.
//
// network is the /24 base, e.g. "192.168.1". Pass an empty string to
// derive it from the machine's outbound interface.
//
// Returns the gateway IPs found, sorted.
func ScanGateways(ctx context.Context, network string, port int) ([]string, error) {
	if port == 0 {
		port = DefaultPort
	}
	if network == "" {
		base, err := localNetworkBase()
		if err != nil {
			return nil, fmt.Errorf("determine local network: %w", err)
		}
		network = base
	}

	hosts := make(chan string)
	results := make(chan string, 254)

	var wg sync.WaitGroup
	for i := 0; i < scanWorkerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for host := range hosts {
				if probeGateway(ctx, host, port) {
					results <- host
				}
			}
		}()
	}

	go func() {
		defer close(hosts)
		for i := 1; i < 255; i++ {
			select {
			case <-ctx.Done():
				return
			case hosts <- fmt.Sprintf("%s.%d", network, i):
			}
		}
	}()

	wg.Wait()
	close(results)

	var gateways []string
	for ip := range results {
		gateways = append(gateways, ip)
	}
	sort.Strings(gateways)

	if err := ctx.Err(); err != nil {
		return gateways, fmt.Errorf("scan interrupted: %w", err)
	}
	return gateways, nil
}

// probeGateway checks whether host:port answers a discovery frame like
// a Symi gateway.
func probeGateway(ctx context.Context, host string, port int) bool {
	dialCtx, cancel := context.WithTimeout(ctx, scanDialTimeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(dialCtx, "tcp", net.JoinHostPort(host, fmt.Sprintf("%d", port)))
	if err != nil {
		return false
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(scanReadTimeout)); err != nil {
		return false
	}
	if _, err := conn.Write(EncodeDiscoveryCommand()); err != nil {
		return false
	}

	buf := make([]byte, 1024)
	n, err := conn.Read(buf)
	if err != nil {
		return false
	}

	return n > responseHeaderSize && buf[0] == FrameHeader
}

// localNetworkBase derives the local /24 base ("a.b.c") from the
// machine's outbound interface.
func localNetworkBase() (string, error) {
	// A UDP "connection" never sends packets; it only resolves the
	// preferred source address.
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", fmt.Errorf("resolve outbound address: %w", err)
	}
	defer conn.Close()

	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return "", fmt.Errorf("unexpected local address type %T", conn.LocalAddr())
	}

	ip4 := addr.IP.To4()
	if ip4 == nil {
		return "", fmt.Errorf("no IPv4 outbound address")
	}

	return fmt.Sprintf("%d.%d.%d", ip4[0], ip4[1], ip4[2]), nil
}
