package discovery

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// Service is an HTTP service found on the local network.
type Service struct {
	Instance string
	Hostname string
	IP       string
	Port     int

	// Metadata holds the TXT records, e.g. "path=/", "server=httpcore".
	Metadata map[string]string

	DiscoveredAt time.Time
}

func (s *Service) String() string {
	return fmt.Sprintf("%s (%s) at %s", s.Instance, s.Hostname, net.JoinHostPort(s.IP, strconv.Itoa(s.Port)))
}

// BaseURL returns the HTTP base URL of the service.
func (s *Service) BaseURL() string {
	return "http://" + net.JoinHostPort(s.IP, strconv.Itoa(s.Port)) + s.Metadata["path"]
}

// IsHTTPCore reports whether the service was announced by httpcore.
func (s *Service) IsHTTPCore() bool {
	return s.Metadata[txtServerKey] == txtServerValue
}
