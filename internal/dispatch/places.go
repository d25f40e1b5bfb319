package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/valter-silva-au/haven/pkg/models"
)

// Places is the safe-location lookup collaborator.
type Places interface {
	Search(ctx context.Context, loc models.Location, radiusMeters float64, types []string) ([]models.Place, error)
}

// placePriority ranks place types for safety: staffed responder and medical
// sites first, then other emergency infrastructure, then general public
// places that are likely open and populated.
var placePriority = map[string]int{
	"police":       0,
	"hospital":     0,
	"fire_station": 1,
	"urgent_care":  1,
	"pharmacy":     2,
	"gas_station":  3,
	"convenience":  3,
	"supermarket":  3,
	"restaurant":   4,
	"cafe":         4,
}

const defaultPlacePriority = 5

// RankPlaces orders candidates by place-type priority, tie-broken by
// ascending distance, and returns at most max results.
func RankPlaces(candidates []models.Place, max int) []models.Place {
	ranked := append([]models.Place(nil), candidates...)
	sort.SliceStable(ranked, func(i, j int) bool {
		pi, pj := priorityFor(ranked[i].Type), priorityFor(ranked[j].Type)
		if pi != pj {
			return pi < pj
		}
		return ranked[i].DistanceMeters < ranked[j].DistanceMeters
	})
	if max > 0 && len(ranked) > max {
		ranked = ranked[:max]
	}
	return ranked
}

func priorityFor(placeType string) int {
	if p, ok := placePriority[strings.ToLower(placeType)]; ok {
		return p
	}
	return defaultPlacePriority
}

// httpPlaces queries a places relay endpoint.
type httpPlaces struct {
	baseURL string
	client  *http.Client
}

// NewHTTPPlaces creates a Places client against the given relay base URL.
func NewHTTPPlaces(baseURL string) Places {
	return &httpPlaces{baseURL: baseURL, client: &http.Client{}}
}

type placesResponse struct {
	Results []models.Place `json:"results"`
}

// Search queries the relay for candidate places near loc. Candidates
// missing a distance get one computed from coordinates.
func (p *httpPlaces) Search(ctx context.Context, loc models.Location, radiusMeters float64, types []string) ([]models.Place, error) {
	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(loc.Lat, 'f', -1, 64))
	q.Set("lng", strconv.FormatFloat(loc.Lng, 'f', -1, 64))
	q.Set("radius", strconv.FormatFloat(radiusMeters, 'f', -1, 64))
	if len(types) > 0 {
		q.Set("types", strings.Join(types, ","))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/search?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("building places request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("querying places relay: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("places relay returned status %d", resp.StatusCode)
	}

	var decoded placesResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decoding places response: %w", err)
	}

	for i := range decoded.Results {
		if decoded.Results[i].DistanceMeters == 0 {
			decoded.Results[i].DistanceMeters = haversineMeters(loc.Lat, loc.Lng, decoded.Results[i].Lat, decoded.Results[i].Lng)
		}
	}
	return decoded.Results, nil
}

// haversineMeters computes great-circle distance between two coordinates.
func haversineMeters(lat1, lng1, lat2, lng2 float64) float64 {
	const earthRadiusMeters = 6371000
	toRad := func(deg float64) float64 { return deg * math.Pi / 180 }

	dLat := toRad(lat2 - lat1)
	dLng := toRad(lng2 - lng1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusMeters * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}
