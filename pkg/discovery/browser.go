package discovery

import (
	"context"
	"net"
	"sort"

	"github.com/enbility/zeroconf/v3"
)

// entry is a resolved service instance.
type entry struct {
	instance  string
	host      string
	port      int
	addresses []string
	text      []string
}

func fromServiceEntry(se *zeroconf.ServiceEntry) entry {
	addrs := make([]string, 0, len(se.AddrIPv4)+len(se.AddrIPv6))
	for _, ip := range se.AddrIPv4 {
		addrs = append(addrs, ip.String())
	}
	for _, ip := range se.AddrIPv6 {
		addrs = append(addrs, ip.String())
	}
	return entry{
		instance:  se.Instance,
		host:      se.HostName,
		port:      se.Port,
		addresses: addrs,
		text:      se.Text,
	}
}

type browseFunc func(ctx context.Context, iface string, out chan<- entry) error

func zeroconfBrowse(ctx context.Context, iface string, out chan<- entry) error {
	var opts []zeroconf.ClientOption
	if iface != "" {
		if ifi, err := net.InterfaceByName(iface); err == nil {
			opts = append(opts, zeroconf.SelectIfaces([]net.Interface{*ifi}))
		}
	}

	entries := make(chan *zeroconf.ServiceEntry)
	removed := make(chan *zeroconf.ServiceEntry)
	go func() {
		for {
			select {
			case se, ok := <-entries:
				if !ok {
					return
				}
				select {
				case out <- fromServiceEntry(se):
				case <-ctx.Done():
					return
				}
			case <-removed:
			case <-ctx.Done():
				return
			}
		}
	}()
	return zeroconf.Browse(ctx, ServiceType, Domain, entries, removed, opts...)
}

// Browser finds other devices.
type Browser struct {
	iface  string
	browse browseFunc
}

// NewBrowser creates a Browser. An empty iface browses on all interfaces.
func NewBrowser(iface string) *Browser {
	return &Browser{iface: iface, browse: zeroconfBrowse}
}

// Peers scans until ctx ends and returns the devices seen, sorted by
// instance name. Records from other products on the same service type
// are skipped.
func (b *Browser) Peers(ctx context.Context) ([]Peer, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	out := make(chan entry)
	errCh := make(chan error, 1)
	go func() {
		errCh <- b.browse(ctx, b.iface, out)
	}()

	peers := make(map[string]*Peer)
	for {
		select {
		case e := <-out:
			mergePeer(peers, e)
		case err := <-errCh:
			if err != nil && ctx.Err() == nil {
				return nil, err
			}
			// Browsing may continue in the background after the call returns.
			errCh = nil
		case <-ctx.Done():
			return sortedPeers(peers), nil
		}
	}
}

// mergePeer adds e to peers, combining addresses seen on several
// interfaces.
func mergePeer(peers map[string]*Peer, e entry) {
	info, err := DecodeTXT(StringsToTXTRecords(e.text))
	if err != nil {
		return
	}
	if existing, ok := peers[e.instance]; ok {
		existing.Addresses = mergeAddresses(existing.Addresses, e.addresses)
		return
	}
	peers[e.instance] = &Peer{
		InstanceName: e.instance,
		Host:         e.host,
		Port:         uint16(e.port),
		Addresses:    append([]string(nil), e.addresses...),
		Info:         info,
	}
}

// mergeAddresses adds new addresses to existing list, avoiding duplicates.
func mergeAddresses(existing, added []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, addr := range existing {
		seen[addr] = true
	}
	for _, addr := range added {
		if !seen[addr] {
			existing = append(existing, addr)
			seen[addr] = true
		}
	}
	return existing
}

func sortedPeers(m map[string]*Peer) []Peer {
	out := make([]Peer, 0, len(m))
	for _, p := range m {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InstanceName < out[j].InstanceName })
	return out
}
