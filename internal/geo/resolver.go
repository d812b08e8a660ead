package geo

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/lugares/apiserver/types"
	"github.com/oschwald/geoip2-golang"
)

var (
	// ErrUnavailable is returned when no location database is configured.
	ErrUnavailable = errors.New("geo locator unavailable")
	// ErrNoLocation is returned when the database has no coordinates for an address.
	ErrNoLocation = errors.New("no location for address")
)

// Locator resolves approximate coordinates for a client address.
type Locator interface {
	Locate(ctx context.Context, ip string) (types.Coordinates, error)
}

// Resolver provides city-level lookups backed by a MaxMind GeoIP2 City database.
type Resolver struct {
	reader *geoip2.Reader
}

// NewResolver opens the GeoIP database at the given path. When the path is
// empty, a nil resolver is returned and lookups report ErrUnavailable.
func NewResolver(path string) (*Resolver, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	reader, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("geo: open database: %w", err)
	}
	return &Resolver{reader: reader}, nil
}

// Locate returns the approximate coordinates recorded for ip.
func (r *Resolver) Locate(ctx context.Context, ip string) (types.Coordinates, error) {
	if r == nil || r.reader == nil {
		return types.Coordinates{}, ErrUnavailable
	}
	parsed := net.ParseIP(HostOnly(ip))
	if parsed == nil {
		return types.Coordinates{}, fmt.Errorf("geo: invalid ip %q", ip)
	}
	record, err := r.reader.City(parsed)
	if err != nil {
		return types.Coordinates{}, fmt.Errorf("geo: lookup city: %w", err)
	}
	if record == nil || (record.Location.Latitude == 0 && record.Location.Longitude == 0) {
		return types.Coordinates{}, ErrNoLocation
	}
	return types.Coordinates{
		Latitude:  record.Location.Latitude,
		Longitude: record.Location.Longitude,
	}, nil
}

// Close closes the underlying database reader.
func (r *Resolver) Close() error {
	if r == nil || r.reader == nil {
		return nil
	}
	return r.reader.Close()
}

// HostOnly strips a port from a host:port address.
func HostOnly(addr string) string {
	addr = strings.TrimSpace(addr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
