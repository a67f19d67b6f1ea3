package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/enbility/zeroconf/v3"
)

// DNS-SD parameters for network-reachable devices.
const (
	// ServiceType is advertised by devices with WiFi sync enabled.
	ServiceType = "_apple-mobdev2._tcp"

	// Domain is the DNS-SD browse domain.
	Domain = "local."

	// BrowseTimeout bounds one-shot lookups such as FindByUDID.
	BrowseTimeout = 10 * time.Second
)

// Discovery errors.
var (
	// ErrNotFound is returned when a lookup finishes without a match.
	ErrNotFound = errors.New("discovery: device not found")

	// ErrBadInstanceName is returned for instance names that do not
	// follow the <mac>@<udid> convention.
	ErrBadInstanceName = errors.New("discovery: malformed instance name")
)

// Service describes one advertised device.
type Service struct {
	// InstanceName is the raw DNS-SD instance name.
	InstanceName string

	// UDID is the device's unique identifier, parsed from the instance
	// name.
	UDID string

	// MACAddress is the device's WiFi MAC address, parsed from the
	// instance name.
	MACAddress string

	// Host is the advertised hostname.
	Host string

	// Port is the advertised port.
	Port uint16

	// Addresses holds the device's IP addresses across all interfaces
	// the service was seen on.
	Addresses []string
}

// ParseInstanceName splits a <mac>@<udid> instance name.
func ParseInstanceName(name string) (mac, udid string, err error) {
	mac, udid, ok := strings.Cut(name, "@")
	if !ok || mac == "" || udid == "" {
		return "", "", fmt.Errorf("%w: %q", ErrBadInstanceName, name)
	}
	return mac, udid, nil
}

// BrowseFunc issues one DNS-SD browse operation. It exists so tests can
// inject synthetic service entries.
type BrowseFunc func(ctx context.Context, service, domain string, entries, removed chan *zeroconf.ServiceEntry, opts ...zeroconf.ClientOption) error

// BrowserConfig configures browser behavior.
type BrowserConfig struct {
	// Interface selects one network interface to browse on. Empty means
	// all interfaces.
	Interface string

	// Browse overrides the DNS-SD browse operation. If nil, zeroconf
	// multicast browsing is used. Set this in tests.
	Browse BrowseFunc
}

// Browser watches the network for advertised devices.
type Browser struct {
	config BrowserConfig
}

// NewBrowser creates a browser.
func NewBrowser(config BrowserConfig) *Browser {
	if config.Browse == nil {
		config.Browse = func(ctx context.Context, service, domain string, entries, removed chan *zeroconf.ServiceEntry, opts ...zeroconf.ClientOption) error {
			return zeroconf.Browse(ctx, service, domain, entries, removed, opts...)
		}
	}
	return &Browser{config: config}
}

// Browse watches for devices until the context is cancelled. It returns
// two channels: added carries devices as they first appear, removed
// carries devices whose last address disappeared. Entries seen on
// multiple interfaces are aggregated by instance name. Both channels
// close when browsing ends.
func (b *Browser) Browse(ctx context.Context) (added, removed <-chan *Service, err error) {
	addedCh := make(chan *Service)
	removedCh := make(chan *Service)

	entries := make(chan *zeroconf.ServiceEntry)
	gone := make(chan *zeroconf.ServiceEntry)

	go func() {
		defer close(addedCh)
		defer close(removedCh)

		services := make(map[string]*Service)

		// Local aliases so a closed channel can be parked on nil without
		// racing the browse goroutine's own reads.
		entries, gone := entries, gone

		for {
			select {
			case entry, ok := <-entries:
				if !ok {
					return
				}
				svc, err := entryToService(entry)
				if err != nil {
					continue
				}
				existing, found := services[svc.InstanceName]
				if found {
					existing.Addresses = mergeAddresses(existing.Addresses, svc.Addresses)
					continue
				}
				services[svc.InstanceName] = svc
				select {
				case addedCh <- svc:
				case <-ctx.Done():
					return
				}

			case entry, ok := <-gone:
				if !ok {
					gone = nil
					continue
				}
				existing, found := services[entry.Instance]
				if !found {
					continue
				}
				existing.Addresses = removeEntryAddresses(existing.Addresses, entry)
				if len(existing.Addresses) > 0 {
					continue
				}
				delete(services, entry.Instance)
				select {
				case removedCh <- existing:
				case <-ctx.Done():
					return
				}

			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		_ = b.config.Browse(ctx, ServiceType, Domain, entries, gone, b.clientOptions()...)
	}()

	return addedCh, removedCh, nil
}

// FindByUDID browses until a device with the given UDID appears. The
// context bounds the wait; callers without their own deadline get
// BrowseTimeout.
func (b *Browser) FindByUDID(ctx context.Context, udid string) (*Service, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, BrowseTimeout)
		defer cancel()
	}

	added, _, err := b.Browse(ctx)
	if err != nil {
		return nil, err
	}
	for {
		select {
		case svc, ok := <-added:
			if !ok {
				return nil, ErrNotFound
			}
			if svc.UDID == udid {
				return svc, nil
			}
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s", ErrNotFound, udid)
		}
	}
}

func (b *Browser) clientOptions() []zeroconf.ClientOption {
	var opts []zeroconf.ClientOption
	if b.config.Interface != "" {
		if iface, err := net.InterfaceByName(b.config.Interface); err == nil {
			opts = append(opts, zeroconf.SelectIfaces([]net.Interface{*iface}))
		}
	}
	return opts
}

func entryToService(entry *zeroconf.ServiceEntry) (*Service, error) {
	mac, udid, err := ParseInstanceName(entry.Instance)
	if err != nil {
		return nil, err
	}

	addrs := make([]string, 0, len(entry.AddrIPv4)+len(entry.AddrIPv6))
	for _, ip := range entry.AddrIPv4 {
		addrs = append(addrs, ip.String())
	}
	for _, ip := range entry.AddrIPv6 {
		addrs = append(addrs, ip.String())
	}

	return &Service{
		InstanceName: entry.Instance,
		UDID:         udid,
		MACAddress:   mac,
		Host:         entry.HostName,
		Port:         uint16(entry.Port),
		Addresses:    addrs,
	}, nil
}

// mergeAddresses appends addresses not already present.
func mergeAddresses(existing, incoming []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, addr := range existing {
		seen[addr] = true
	}
	for _, addr := range incoming {
		if !seen[addr] {
			existing = append(existing, addr)
			seen[addr] = true
		}
	}
	return existing
}

// removeEntryAddresses drops the addresses carried by a removal entry.
func removeEntryAddresses(addresses []string, entry *zeroconf.ServiceEntry) []string {
	toRemove := make(map[string]bool)
	for _, ip := range entry.AddrIPv4 {
		toRemove[ip.String()] = true
	}
	for _, ip := range entry.AddrIPv6 {
		toRemove[ip.String()] = true
	}

	kept := addresses[:0]
	for _, addr := range addresses {
		if !toRemove[addr] {
			kept = append(kept, addr)
		}
	}
	return kept
}
