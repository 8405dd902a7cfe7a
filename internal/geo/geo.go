package geo

import (
	"context"

	"github.com/aegis-sec/aegis/internal/util"
)

// Location is the approximate position resolved for an IP address.
// Coordinates are zero when the upstream database has no fix.
type Location struct {
	Country     string  `json:"country"`
	CountryCode string  `json:"country_code"`
	Region      string  `json:"region,omitempty"`
	RegionCode  string  `json:"region_code,omitempty"`
	Latitude    float64 `json:"latitude,omitempty"`
	Longitude   float64 `json:"longitude,omitempty"`
}

// Resolver looks up the location of an IP. A nil result with nil error
// means the IP could not be located; callers degrade gracefully.
type Resolver interface {
	Resolve(ctx context.Context, ip string) (*Location, error)
}

// localLocation is the fixed placeholder for private and loopback
// addresses, which never reach the real resolver.
var localLocation = Location{Country: "Local Network", CountryCode: "LOCAL"}

// IsLocal reports whether ip short-circuits to the local placeholder.
func IsLocal(ip string) bool { return util.IsPrivateIP(ip) }

// Lookup resolves ip through r, short-circuiting private/loopback
// addresses to the local placeholder first.
func Lookup(ctx context.Context, r Resolver, ip string) (*Location, error) {
	if IsLocal(ip) {
		loc := localLocation
		return &loc, nil
	}
	if r == nil {
		return nil, nil
	}
	return r.Resolve(ctx, ip)
}

// Static is a deterministic Resolver backed by a fixed IP→Location map.
// Tests and air-gapped deployments use it in place of a GeoIP database.
type Static struct {
	Locations map[string]Location
}

func (s *Static) Resolve(_ context.Context, ip string) (*Location, error) {
	if loc, ok := s.Locations[ip]; ok {
		l := loc
		return &l, nil
	}
	return nil, nil
}
