package out

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
)

const ServiceName = "_livedoc._tcp"

// MDNSAdvertiser announces the relay on the local network.
type MDNSAdvertiser struct {
	server *zeroconf.Server
}

func NewMDNSAdvertiser() *MDNSAdvertiser {
	return &MDNSAdvertiser{}
}

func (a *MDNSAdvertiser) Advertise(port int) error {
	host, _ := os.Hostname()
	server, err := zeroconf.Register(
		fmt.Sprintf("livedoc-%s", host),
		ServiceName,
		"local.",
		port,
		[]string{"path=/ws"},
		nil,
	)
	if err != nil {
		return fmt.Errorf("register mdns service: %w", err)
	}
	a.server = server
	return nil
}

func (a *MDNSAdvertiser) Shutdown() {
	if a.server != nil {
		a.server.Shutdown()
	}
}

// Peer is one relay found on the local network.
type Peer struct {
	Instance string
	URL      string
}

// Discover browses the local network for relays until wait elapses.
func Discover(ctx context.Context, wait time.Duration) ([]Peer, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("init mdns resolver: %w", err)
	}
	var (
		mu    sync.Mutex
		peers []Peer
	)
	entries := make(chan *zeroconf.ServiceEntry)
	go func(results <-chan *zeroconf.ServiceEntry) {
		for entry := range results {
			if len(entry.AddrIPv4) == 0 {
				continue
			}
			mu.Lock()
			peers = append(peers, Peer{
				Instance: entry.Instance,
				URL:      fmt.Sprintf("ws://%s:%d/ws", entry.AddrIPv4[0], entry.Port),
			})
			mu.Unlock()
		}
	}(entries)

	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	if err := resolver.Browse(ctx, ServiceName, "local.", entries); err != nil {
		return nil, fmt.Errorf("browse mdns: %w", err)
	}
	<-ctx.Done()
	mu.Lock()
	defer mu.Unlock()
	return append([]Peer(nil), peers...), nil
}
