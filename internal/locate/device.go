package locate

import (
	"context"
	"strconv"
	"strings"

	"issue-service/internal/geo"
)

// DeviceReport is what a worker's device sent with the request: either a fix
// or the error code its geolocation API returned.
type DeviceReport struct {
	Point *geo.Point
	Code  Code
}

// ParseDeviceReport reads the lat, lng and geo_error query values. A missing
// or malformed pair is reported as position unavailable.
func ParseDeviceReport(lat, lng, geoError string) DeviceReport {
	if raw := strings.TrimSpace(geoError); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 1 && n <= 3 {
			return DeviceReport{Code: Code(n)}
		}
		return DeviceReport{Code: CodePositionUnavailable}
	}
	if strings.TrimSpace(lat) == "" || strings.TrimSpace(lng) == "" {
		return DeviceReport{Code: CodePositionUnavailable}
	}
	la, errLat := strconv.ParseFloat(strings.TrimSpace(lat), 64)
	ln, errLng := strconv.ParseFloat(strings.TrimSpace(lng), 64)
	if errLat != nil || errLng != nil {
		return DeviceReport{Code: CodePositionUnavailable}
	}
	p := geo.Point{Lat: la, Lng: ln}
	if !p.Valid() {
		return DeviceReport{Code: CodePositionUnavailable}
	}
	return DeviceReport{Point: &p}
}

func (d DeviceReport) Watch(ctx context.Context, fixes chan<- geo.Point) error {
	if d.Code != 0 {
		return &Error{Code: d.Code}
	}
	if d.Point == nil {
		return &Error{Code: CodePositionUnavailable}
	}
	select {
	case fixes <- *d.Point:
	case <-ctx.Done():
		return ctx.Err()
	}
	<-ctx.Done()
	return nil
}
