package coordination

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/ghalamif/SoundMap/internal/domain"
)

// ParseTarget parses a "TAG:LAT,LNG" line.
func ParseTarget(line string) (domain.Target, error) {
	tag, loc, err := parseEntry(line)
	if err != nil {
		return domain.Target{}, err
	}
	return domain.Target{Tag: tag, Location: loc}, nil
}

// ParsePeers parses a ';'-delimited roster of "NAME:LAT,LNG" entries. Bad
// entries are skipped; an empty or fully malformed body yields an empty roster.
func ParsePeers(body string) []domain.PeerLocation {
	peers := make([]domain.PeerLocation, 0)
	for _, entry := range strings.Split(body, ";") {
		name, loc, err := parseEntry(entry)
		if err != nil {
			continue
		}
		peers = append(peers, domain.PeerLocation{Name: name, Location: loc})
	}
	return peers
}

func parseEntry(raw string) (string, domain.GeoPoint, error) {
	raw = strings.TrimSpace(raw)
	tag, coords, ok := strings.Cut(raw, ":")
	if !ok {
		return "", domain.GeoPoint{}, fmt.Errorf("%w: missing ':' in %q", domain.ErrMalformed, raw)
	}
	if tag == "" {
		return "", domain.GeoPoint{}, fmt.Errorf("%w: empty tag in %q", domain.ErrMalformed, raw)
	}

	fields := strings.Split(coords, ",")
	if len(fields) != 2 {
		return "", domain.GeoPoint{}, fmt.Errorf("%w: want LAT,LNG in %q", domain.ErrMalformed, raw)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(fields[0]), 64)
	if err != nil {
		return "", domain.GeoPoint{}, fmt.Errorf("%w: latitude %q", domain.ErrMalformed, fields[0])
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(fields[1]), 64)
	if err != nil {
		return "", domain.GeoPoint{}, fmt.Errorf("%w: longitude %q", domain.ErrMalformed, fields[1])
	}
	if !finite(lat) || !finite(lng) || math.Abs(lat) > 90 || math.Abs(lng) > 180 {
		return "", domain.GeoPoint{}, fmt.Errorf("%w: coordinates out of range in %q", domain.ErrMalformed, raw)
	}
	return tag, domain.GeoPoint{Latitude: lat, Longitude: lng}, nil
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
