package instrument

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strings"

	"github.com/grandcat/zeroconf"
)

// ServiceSCPI is the DNS-SD service type LXI instruments announce.
const ServiceSCPI = "_scpi-raw._tcp"

// Host is an instrument found on the local network.
type Host struct {
	Instance  string // advertised name, e.g. "Keysight E8257D"
	Hostname  string
	Addresses []net.IP
	Port      int
	TXT       []string
}

// Addr returns host:port for the first IPv4 address, falling back to the hostname.
func (h Host) Addr() string {
	for _, ip := range h.Addresses {
		if ip.To4() != nil {
			return net.JoinHostPort(ip.String(), fmt.Sprint(h.Port))
		}
	}
	return net.JoinHostPort(strings.TrimSuffix(h.Hostname, "."), fmt.Sprint(h.Port))
}

// Discover browses mDNS for raw-socket SCPI instruments until ctx is done.
// Entries are deduplicated by hostname and port and sorted by instance.
func Discover(ctx context.Context) ([]Host, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("resolver error: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry)
	results := make(map[string]Host)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case e, ok := <-entries:
				if !ok {
					return
				}
				if e == nil {
					continue
				}
				h := hostFromEntry(e)
				results[fmt.Sprintf("%s|%d", h.Hostname, h.Port)] = h
			case <-ctx.Done():
				return
			}
		}
	}()

	if err := resolver.Browse(ctx, ServiceSCPI, "local.", entries); err != nil {
		return nil, fmt.Errorf("browse error: %w", err)
	}
	<-done

	out := make([]Host, 0, len(results))
	for _, h := range results {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Instance < out[j].Instance })
	return out, nil
}

func hostFromEntry(e *zeroconf.ServiceEntry) Host {
	addrs := make([]net.IP, 0, len(e.AddrIPv4)+len(e.AddrIPv6))
	addrs = append(addrs, e.AddrIPv4...)
	addrs = append(addrs, e.AddrIPv6...)
	return Host{
		Instance:  cleanInstance(e.Instance),
		Hostname:  e.HostName,
		Addresses: addrs,
		Port:      e.Port,
		TXT:       append([]string{}, e.Text...),
	}
}

// cleanInstance removes zeroconf escapes: "\ " becomes " ".
func cleanInstance(s string) string {
	return strings.ReplaceAll(s, `\ `, " ")
}
