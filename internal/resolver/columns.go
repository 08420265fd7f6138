package resolver

import "strings"

// Canonical coordinate column names.
const (
	ColLatitude  = "latitude"
	ColLongitude = "longitude"
)

var lonVariants = map[string]struct{}{
	"longitude": {}, "long": {}, "lon": {}, "lng": {}, "x": {},
}

var latVariants = map[string]struct{}{
	"latitude": {}, "lat": {}, "lt": {}, "y": {},
}

// standardizeHeader lowercases every column name and maps recognized
// latitude/longitude variants to their canonical spelling. Idempotent.
func standardizeHeader(header []string) []string {
	out := make([]string, len(header))
	for i, name := range header {
		lower := strings.ToLower(strings.TrimSpace(name))
		switch {
		case isLonVariant(lower):
			out[i] = ColLongitude
		case isLatVariant(lower):
			out[i] = ColLatitude
		default:
			out[i] = lower
		}
	}
	return out
}

func isLonVariant(name string) bool {
	_, ok := lonVariants[name]
	return ok
}

func isLatVariant(name string) bool {
	_, ok := latVariants[name]
	return ok
}

// indexOf returns the index of name in header, or -1.
func indexOf(header []string, name string) int {
	for i, h := range header {
		if h == name {
			return i
		}
	}
	return -1
}
