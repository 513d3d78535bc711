package discovery

import (
	"context"
	"errors"
	"net"
	"strconv"
)

const (
	RelayServiceType = "_signbridge._tcp"
	DefaultDomain    = "local"
	DefaultPath      = "/ws"
)

var ErrNoRelay = errors.New("no relay found")

type ServiceInfo struct {
	Name   string // instance name
	Type   string // service name, e.g. "_signbridge._tcp"
	Domain string // domain, e.g. "local"
	Addr   net.IP
	Port   int
	Text   map[string]string
}

// URL is the websocket endpoint advertised by a relay.
func (s ServiceInfo) URL() string {
	path := s.Text["path"]
	if path == "" {
		path = DefaultPath
	}
	host := "localhost"
	if s.Addr != nil {
		host = s.Addr.String()
	}
	return "ws://" + net.JoinHostPort(host, strconv.Itoa(s.Port)) + path
}

// DiscoveryResult carries either a snapshot of the services seen so far or
// the error that ended the lookup.
type DiscoveryResult struct {
	Services []ServiceInfo
	Error    error
}

type Adapter interface {
	Announce(ctx context.Context, service ServiceInfo) error
	Discover(ctx context.Context, service string) <-chan DiscoveryResult
}

// FindRelay browses for relays until one shows up or ctx ends.
func FindRelay(ctx context.Context, adapter Adapter) (ServiceInfo, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := adapter.Discover(ctx, RelayServiceType+"."+DefaultDomain+".")
	for {
		select {
		case <-ctx.Done():
			return ServiceInfo{}, ErrNoRelay
		case res, ok := <-results:
			if !ok {
				return ServiceInfo{}, ErrNoRelay
			}
			if res.Error != nil {
				return ServiceInfo{}, res.Error
			}
			if len(res.Services) > 0 {
				return res.Services[0], nil
			}
		}
	}
}
