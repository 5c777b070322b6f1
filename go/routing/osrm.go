package routing

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	log "github.com/sirupsen/logrus"

	"github.com/proofcart/proofcart/go/geo"
)

const osrmProfile = "car"

// osrmRouter fetches road-graph travel times from an OSRM instance and
// falls back to the haversine model when the service is unreachable.
type osrmRouter struct {
	base        string
	client      *http.Client
	timeCache   *lru.LRU[string, int]
	matrixCache *lru.LRU[string, [][]int]
}

func newOSRM(baseURL string) *osrmRouter {
	if baseURL == "" {
		baseURL = "https://router.project-osrm.org"
	}
	return &osrmRouter{
		base:        strings.TrimRight(baseURL, "/"),
		client:      &http.Client{Timeout: 15 * time.Second},
		timeCache:   lru.NewLRU[string, int](cacheSize, nil, cacheTTL),
		matrixCache: lru.NewLRU[string, [][]int](cacheSize, nil, cacheTTL),
	}
}

type osrmRouteResponse struct {
	Code   string `json:"code"`
	Routes []struct {
		Duration float64 `json:"duration"`
	} `json:"routes"`
}

type osrmTableResponse struct {
	Code      string       `json:"code"`
	Durations [][]*float64 `json:"durations"`
}

// RouteTime implements Router.
func (o *osrmRouter) RouteTime(a, b geo.Point) int {
	var key = cacheKey("osrm", a, b)
	if t, ok := o.timeCache.Get(key); ok {
		return t
	}

	var t, err = o.routeDuration(a, b)
	if err != nil {
		log.WithField("err", err).Warn("osrm route failed, using haversine estimate")
		t = modelTravelS(a, b)
	}
	o.timeCache.Add(key, t)
	return t
}

// BatchMatrix implements Router.
func (o *osrmRouter) BatchMatrix(points []geo.Point) [][]int {
	if len(points) == 0 {
		return nil
	}

	var sb strings.Builder
	for i, p := range points {
		if i > 0 {
			sb.WriteByte(';')
		}
		// OSRM takes lng,lat order.
		fmt.Fprintf(&sb, "%.5f,%.5f", p.Lng, p.Lat)
	}
	var coords = sb.String()

	if m, ok := o.matrixCache.Get(coords); ok {
		return m
	}

	var matrix, err = o.tableDurations(coords, len(points))
	if err != nil {
		log.WithField("err", err).Warn("osrm table failed, using haversine estimates")
		matrix = make([][]int, len(points))
		for i := range matrix {
			matrix[i] = make([]int, len(points))
			for j := range matrix[i] {
				if i != j {
					matrix[i][j] = modelTravelS(points[i], points[j])
				}
			}
		}
	}
	o.matrixCache.Add(coords, matrix)
	return matrix
}

func (o *osrmRouter) routeDuration(a, b geo.Point) (int, error) {
	var url = fmt.Sprintf("%s/route/v1/%s/%.5f,%.5f;%.5f,%.5f?overview=false",
		o.base, osrmProfile, a.Lng, a.Lat, b.Lng, b.Lat)

	resp, err := o.client.Get(url)
	if err != nil {
		return 0, fmt.Errorf("calling osrm route service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("osrm route service returned status %d", resp.StatusCode)
	}

	var parsed osrmRouteResponse
	if err = json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return 0, fmt.Errorf("decoding osrm route response: %w", err)
	} else if parsed.Code != "Ok" || len(parsed.Routes) == 0 {
		return 0, fmt.Errorf("osrm route service returned code %q", parsed.Code)
	}

	var t = int(parsed.Routes[0].Duration)
	if t < minTravelS {
		t = minTravelS
	}
	return t, nil
}

func (o *osrmRouter) tableDurations(coords string, n int) ([][]int, error) {
	var url = fmt.Sprintf("%s/table/v1/%s/%s", o.base, osrmProfile, coords)

	resp, err := o.client.Get(url)
	if err != nil {
		return nil, fmt.Errorf("calling osrm table service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("osrm table service returned status %d", resp.StatusCode)
	}

	var parsed osrmTableResponse
	if err = json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decoding osrm table response: %w", err)
	} else if parsed.Code != "Ok" || len(parsed.Durations) != n {
		return nil, fmt.Errorf("osrm table service returned code %q", parsed.Code)
	}

	var matrix = make([][]int, n)
	for i, row := range parsed.Durations {
		matrix[i] = make([]int, n)
		for j, cell := range row {
			if cell == nil {
				// Unroutable pair. Keep it large so planners avoid it.
				matrix[i][j] = 9999
			} else if d := int(*cell); d < 1 {
				matrix[i][j] = 1
			} else {
				matrix[i][j] = d
			}
		}
	}
	return matrix, nil
}
