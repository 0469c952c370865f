package riskcheck

import (
	"fmt"
	"net"

	"github.com/oschwald/geoip2-golang"
)

// GeoResolver answers country lookups from a local MaxMind database. A nil
// resolver is valid and always answers with an empty country, so a missing
// database degrades instead of disabling the classifier.
type GeoResolver struct {
	reader *geoip2.Reader
}

func OpenGeoResolver(path string) (*GeoResolver, error) {
	if path == "" {
		return nil, nil
	}

	reader, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open geoip database: %w", err)
	}
	return &GeoResolver{reader: reader}, nil
}

func (g *GeoResolver) Country(ip string) string {
	if g == nil || g.reader == nil {
		return ""
	}

	parsed := net.ParseIP(ip)
	if parsed == nil {
		return ""
	}

	record, err := g.reader.Country(parsed)
	if err != nil {
		return ""
	}
	return record.Country.IsoCode
}

func (g *GeoResolver) Close() error {
	if g == nil || g.reader == nil {
		return nil
	}
	return g.reader.Close()
}
