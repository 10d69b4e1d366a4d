// Package discovery advertises the sync server on the local network over
// mDNS and lets agents find it without a configured address.
package discovery

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/grandcat/zeroconf"
)

const domain = "local."

// Endpoint is one discovered sync server.
type Endpoint struct {
	Instance string
	Host     string
	Port     int
}

// URL returns the WebSocket URL of the endpoint.
func (e Endpoint) URL() string {
	return "ws://" + net.JoinHostPort(e.Host, strconv.Itoa(e.Port)) + "/ws"
}

// Advertisement is a running mDNS registration.
type Advertisement struct {
	server *zeroconf.Server
}

// Shutdown withdraws the advertisement.
func (a *Advertisement) Shutdown() {
	a.server.Shutdown()
}

// InstanceName appends the host name, so several servers on one network
// stay distinguishable.
func InstanceName(base string) string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return base
	}
	return fmt.Sprintf("%s-%s", base, host)
}

// Advertise registers service on port until Shutdown is called.
func Advertise(instance, service string, port int, txt []string) (*Advertisement, error) {
	server, err := zeroconf.Register(instance, service, domain, port, txt, nil)
	if err != nil {
		return nil, fmt.Errorf("register mDNS service %s: %w", service, err)
	}
	return &Advertisement{server: server}, nil
}

// First browses for service and returns the first endpoint with an address.
// ctx bounds the search.
func First(ctx context.Context, service string) (Endpoint, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return Endpoint{}, fmt.Errorf("init mDNS resolver: %w", err)
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	if err := resolver.Browse(ctx, service, domain, entries); err != nil {
		return Endpoint{}, fmt.Errorf("browse %s: %w", service, err)
	}
	for {
		select {
		case <-ctx.Done():
			return Endpoint{}, fmt.Errorf("no %s service found: %w", service, ctx.Err())
		case entry, ok := <-entries:
			if !ok {
				return Endpoint{}, fmt.Errorf("no %s service found", service)
			}
			if ep, ok := endpointOf(entry); ok {
				return ep, nil
			}
		}
	}
}

func endpointOf(entry *zeroconf.ServiceEntry) (Endpoint, bool) {
	if entry == nil {
		return Endpoint{}, false
	}
	var host string
	switch {
	case len(entry.AddrIPv4) > 0:
		host = entry.AddrIPv4[0].String()
	case len(entry.AddrIPv6) > 0:
		host = entry.AddrIPv6[0].String()
	default:
		return Endpoint{}, false
	}
	return Endpoint{Instance: entry.Instance, Host: host, Port: entry.Port}, true
}
