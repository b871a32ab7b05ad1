// Package survey plans and supervises drone survey flights around a
// ground vehicle's position: lawnmower pattern generation, bounded
// execution with pause/resume, and grouping of completed survey logs.
package survey

import (
	"fmt"
	"math"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"

	"github.com/wildtrack/groundlink/internal/geo"
	"github.com/wildtrack/groundlink/pkg/core"
)

// constrainedShrink keeps the inscribed square strictly inside the
// allowed circle despite floating point error.
const constrainedShrink = 0.99

// PlanParams describe one survey pattern request.
type PlanParams struct {
	// CenterLat/CenterLon anchor the pattern, normally the ground
	// vehicle's position.
	CenterLat float64
	CenterLon float64
	// HeadingDeg orients the stripes perpendicular to the vehicle's
	// direction of travel. Negative means unknown heading.
	HeadingDeg float64
	RadiusM    float64
	SwathM     float64
	AltM       float64
}

// GenerateLawnmower builds a boustrophedon stripe pattern covering a
// RadiusM square around the center, stripes spaced SwathM apart and
// rotated to run across the vehicle's heading. The final item loiters
// over the center.
func GenerateLawnmower(p PlanParams) ([]core.Waypoint, error) {
	if p.RadiusM <= 0 || p.SwathM <= 0 {
		return nil, fmt.Errorf("invalid pattern dimensions r=%.1f w=%.1f", p.RadiusM, p.SwathM)
	}

	heading := p.HeadingDeg
	if heading < 0 {
		heading = 0
	}
	// Stripes run perpendicular to the direction of travel.
	rot := (heading + 90) * math.Pi / 180

	stripes := int(math.Floor(2*p.RadiusM/p.SwathM)) + 1

	var wps []core.Waypoint
	for i := 0; i < stripes; i++ {
		across := -p.RadiusM + float64(i)*p.SwathM
		start, end := -p.RadiusM, p.RadiusM
		if i%2 == 1 {
			start, end = end, start
		}

		for _, along := range [2]float64{start, end} {
			// Rotate the local stripe coordinates into the
			// heading-aligned frame.
			dx := along*math.Cos(rot) - across*math.Sin(rot)
			dy := along*math.Sin(rot) + across*math.Cos(rot)
			lat, lon := geo.OffsetMeters(p.CenterLat, p.CenterLon, dx, dy)
			wps = append(wps, core.Waypoint{
				Seq:     len(wps),
				Lat:     lat,
				Lon:     lon,
				Alt:     p.AltM,
				Command: uint16(common.MAV_CMD_NAV_WAYPOINT),
			})
		}
	}

	wps = append(wps, core.Waypoint{
		Seq:     len(wps),
		Lat:     p.CenterLat,
		Lon:     p.CenterLon,
		Alt:     p.AltM,
		Command: uint16(common.MAV_CMD_NAV_LOITER_UNLIM),
	})
	return wps, nil
}

// GenerateConstrained builds a lawnmower pattern guaranteed to stay
// within maxRadiusM of the anchor point: the pattern covers the
// largest square inscribed in that circle and any point that still
// lands outside the circle is dropped. The terminal loiter returns to
// origin, the station held before the survey, so the drone resumes
// where it left off rather than at the pattern center.
func GenerateConstrained(p PlanParams, maxRadiusM float64, origin core.Waypoint) ([]core.Waypoint, error) {
	if maxRadiusM <= 0 {
		return nil, fmt.Errorf("invalid radius limit %.1f", maxRadiusM)
	}

	inner := p
	inner.RadiusM = maxRadiusM * math.Sqrt2 / 2 * constrainedShrink

	raw, err := GenerateLawnmower(inner)
	if err != nil {
		return nil, err
	}
	// Replace the center loiter with the return-to-station terminal.
	raw = raw[:len(raw)-1]

	wps := make([]core.Waypoint, 0, len(raw)+1)
	for _, wp := range raw {
		if geo.Haversine(p.CenterLat, p.CenterLon, wp.Lat, wp.Lon) > maxRadiusM {
			continue
		}
		wp.Seq = len(wps)
		wps = append(wps, wp)
	}
	wps = append(wps, core.Waypoint{
		Seq:     len(wps),
		Lat:     origin.Lat,
		Lon:     origin.Lon,
		Alt:     origin.Alt,
		Command: uint16(common.MAV_CMD_NAV_LOITER_UNLIM),
	})
	return wps, nil
}
