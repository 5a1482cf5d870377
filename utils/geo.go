package utils

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/oschwald/maxminddb-golang"

	"github.com/oberliner3/jhnyc-sub000/models"
)

const unknownGeo = "unknown"

// countryHeaders are set by common CDNs/edges in front of the API.
var countryHeaders = []string{"CF-IPCountry", "X-Vercel-IP-Country", "X-Country-Code"}

// GeoLocator resolves coarse location for client IPs. A zero GeoLocator (or
// one whose database failed to open) only uses edge headers.
type GeoLocator struct {
	mu sync.RWMutex
	db *maxminddb.Reader
}

type countryRecord struct {
	Country struct {
		ISOCode string `maxminddb:"iso_code"`
	} `maxminddb:"country"`
}

// NewGeoLocator opens a MaxMind country database. An empty path disables lookups.
func NewGeoLocator(dbPath string) (*GeoLocator, error) {
	g := &GeoLocator{}
	if dbPath == "" {
		return g, nil
	}
	db, err := maxminddb.Open(dbPath)
	if err != nil {
		return g, fmt.Errorf("failed to open GeoIP database: %w", err)
	}
	g.db = db
	return g, nil
}

// Locate returns geo fields for the request. Region and city are placeholders.
func (g *GeoLocator) Locate(r *http.Request, ip string) models.GeoInfo {
	geo := models.GeoInfo{Country: unknownGeo, Region: unknownGeo, City: unknownGeo}

	if country := g.lookupCountry(ip); country != "" {
		geo.Country = country
		return geo
	}
	for _, header := range countryHeaders {
		if v := strings.TrimSpace(r.Header.Get(header)); v != "" && v != "XX" {
			geo.Country = strings.ToUpper(v)
			break
		}
	}
	return geo
}

func (g *GeoLocator) lookupCountry(ip string) string {
	if g == nil {
		return ""
	}
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return ""
	}
	if parsed.IsLoopback() || parsed.IsPrivate() {
		return "LOCAL"
	}

	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.db == nil {
		return ""
	}
	var record countryRecord
	if err := g.db.Lookup(parsed, &record); err != nil {
		return ""
	}
	return record.Country.ISOCode
}

// Close releases the database.
func (g *GeoLocator) Close() error {
	if g == nil {
		return nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.db == nil {
		return nil
	}
	err := g.db.Close()
	g.db = nil
	return err
}
