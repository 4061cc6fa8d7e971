package discovery

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
	"go.uber.org/zap"

	"github.com/muurk/httpcore/internal/logging"
)

const (
	// ServiceType is the mDNS service type announced and browsed.
	ServiceType = "_http._tcp"

	// ServiceDomain is the mDNS domain.
	ServiceDomain = "local."

	// DefaultScanTimeout bounds Browse when the context has no deadline.
	DefaultScanTimeout = 5 * time.Second

	// DefaultPort is assumed when an entry carries no port.
	DefaultPort = 80

	txtServerKey   = "server"
	txtServerValue = "httpcore"
)

// Announcement is a registered mDNS service. Shutdown withdraws it.
type Announcement struct {
	server *zeroconf.Server
}

// Announce registers instance as an "_http._tcp" service on port. txt
// entries are "key=value" strings; a "server=httpcore" record is added.
func Announce(instance string, port int, txt []string) (*Announcement, error) {
	records := append([]string{txtServerKey + "=" + txtServerValue}, txt...)
	server, err := zeroconf.Register(instance, ServiceType, ServiceDomain, port, records, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to register mDNS service: %w", err)
	}
	logging.Info("Announced over mDNS",
		zap.String("instance", instance),
		zap.String("service", ServiceType),
		zap.Int("port", port),
	)
	return &Announcement{server: server}, nil
}

// Shutdown sends goodbye packets and stops answering queries.
func (a *Announcement) Shutdown() {
	if a != nil && a.server != nil {
		a.server.Shutdown()
	}
}

// Scanner browses for HTTP services.
type Scanner struct {
	// Timeout bounds a browse when the context carries no deadline.
	Timeout time.Duration

	// OnlyHTTPCore drops services not announced by httpcore.
	OnlyHTTPCore bool
}

// NewScanner creates a scanner with default settings.
func NewScanner() *Scanner {
	return &Scanner{Timeout: DefaultScanTimeout}
}

// Browse collects services until ctx is done or the timeout elapses.
func (s *Scanner) Browse(ctx context.Context) ([]*Service, error) {
	if _, ok := ctx.Deadline(); !ok && s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS resolver: %w", err)
	}

	var (
		mu       sync.Mutex
		services []*Service
		seen     = make(map[string]bool)
	)
	entries := make(chan *zeroconf.ServiceEntry)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for entry := range entries {
			svc := parseServiceEntry(entry)
			if svc == nil || (s.OnlyHTTPCore && !svc.IsHTTPCore()) {
				continue
			}
			mu.Lock()
			if key := svc.Instance + "@" + svc.IP; !seen[key] {
				seen[key] = true
				services = append(services, svc)
				logging.Debug("Discovered service", zap.String("service", svc.String()))
			}
			mu.Unlock()
		}
	}()

	if err := resolver.Browse(ctx, ServiceType, ServiceDomain, entries); err != nil {
		return nil, fmt.Errorf("failed to browse for mDNS services: %w", err)
	}
	<-ctx.Done()

	// The resolver closes entries once it notices the cancellation.
	select {
	case <-done:
	case <-time.After(time.Second):
	}

	mu.Lock()
	defer mu.Unlock()
	return append([]*Service(nil), services...), nil
}

// parseServiceEntry converts an entry, or returns nil when it has no
// usable address.
func parseServiceEntry(entry *zeroconf.ServiceEntry) *Service {
	if entry == nil || entry.HostName == "" {
		return nil
	}

	var ip string
	if len(entry.AddrIPv4) > 0 {
		ip = entry.AddrIPv4[0].String()
	} else if len(entry.AddrIPv6) > 0 {
		ip = entry.AddrIPv6[0].String()
	}
	if ip == "" {
		return nil
	}

	port := entry.Port
	if port == 0 {
		port = DefaultPort
	}

	metadata := make(map[string]string, len(entry.Text))
	for _, txt := range entry.Text {
		key, value, _ := strings.Cut(txt, "=")
		metadata[key] = value
	}

	return &Service{
		Instance:     entry.Instance,
		Hostname:     entry.HostName,
		IP:           ip,
		Port:         port,
		Metadata:     metadata,
		DiscoveredAt: time.Now(),
	}
}
