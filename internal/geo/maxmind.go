package geo

import (
	"context"
	"fmt"
	"net"

	"github.com/oschwald/geoip2-golang"
)

// MaxMind resolves locations from a local GeoLite2/GeoIP2 City database.
type MaxMind struct {
	reader *geoip2.Reader
}

// OpenMaxMind opens the .mmdb file at path.
func OpenMaxMind(path string) (*MaxMind, error) {
	reader, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open geoip database: %w", err)
	}
	return &MaxMind{reader: reader}, nil
}

func (m *MaxMind) Resolve(_ context.Context, ip string) (*Location, error) {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return nil, fmt.Errorf("unparseable ip: %s", ip)
	}

	record, err := m.reader.City(parsed)
	if err != nil {
		return nil, fmt.Errorf("geoip lookup: %w", err)
	}
	if record.Country.IsoCode == "" {
		return nil, nil
	}

	loc := &Location{
		Country:     record.Country.Names["en"],
		CountryCode: record.Country.IsoCode,
		Latitude:    record.Location.Latitude,
		Longitude:   record.Location.Longitude,
	}
	if len(record.Subdivisions) > 0 {
		loc.Region = record.Subdivisions[0].Names["en"]
		loc.RegionCode = record.Subdivisions[0].IsoCode
	}
	return loc, nil
}

// Close releases the underlying database handle.
func (m *MaxMind) Close() error { return m.reader.Close() }
