package geo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDistance_KnownValues(t *testing.T) {
	cases := []struct {
		name string
		a, b Point
		want float64
	}{
		{"same point", Point{23.2599, 77.4126}, Point{23.2599, 77.4126}, 0},
		{"one degree on equator", Point{0, 0}, Point{0, 1}, 111.19492664455873},
		{"london to paris", Point{51.5074, -0.1278}, Point{48.8566, 2.3522}, 343.55606034104164},
		{"bhopal short hop", Point{23.2599, 77.4126}, Point{23.2605, 77.4130}, 0.0782363348404988},
		{"bhopal to north east", Point{23.2599, 77.4126}, Point{23.4000, 77.6000}, 24.673963523782785},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.want, Distance(tc.a, tc.b), 1e-6)
		})
	}
}

func TestDistance_Symmetric(t *testing.T) {
	points := []Point{
		{23.2599, 77.4126},
		{-33.8688, 151.2093},
		{40.7128, -74.0060},
		{0, 179.9},
		{0, -179.9},
	}
	for _, a := range points {
		for _, b := range points {
			assert.InDelta(t, Distance(a, b), Distance(b, a), 1e-9)
		}
	}
}

func TestDistance_AcrossAntimeridian(t *testing.T) {
	d := Distance(Point{0, 179.9}, Point{0, -179.9})
	assert.InDelta(t, 22.239, d, 0.01)
}

func TestDistanceMeters(t *testing.T) {
	assert.InDelta(t, 78.2363, DistanceMeters(Point{23.2599, 77.4126}, Point{23.2605, 77.4130}), 1e-3)
}

func TestPoint_Valid(t *testing.T) {
	assert.True(t, Point{23.2599, 77.4126}.Valid())
	assert.True(t, Point{-90, 180}.Valid())
	assert.False(t, Point{91, 0}.Valid())
	assert.False(t, Point{0, -181}.Valid())
	assert.False(t, Point{math.NaN(), 0}.Valid())
	assert.False(t, Point{0, math.Inf(1)}.Valid())
}

func TestBoundingBox_ContainsEverythingInRadius(t *testing.T) {
	center := Point{23.2599, 77.4126}
	box := BoundingBox(center, 10)

	for bearing := 0.0; bearing < 360; bearing += 15 {
		p := destination(center, bearing, 9.99)
		assert.True(t, box.Contains(p), "bearing %.0f", bearing)
	}
	assert.False(t, box.Contains(Point{23.5, 77.4126}))
}

func TestBoundingBox_ClampsNearPole(t *testing.T) {
	box := BoundingBox(Point{89.99, 10}, 60)
	assert.Equal(t, 90.0, box.MaxLat)
	assert.Equal(t, -180.0, box.MinLng)
	assert.Equal(t, 180.0, box.MaxLng)
}

func TestBoundingBox_WrapsAntimeridian(t *testing.T) {
	box := BoundingBox(Point{0, 179.95}, 20)
	assert.True(t, box.Contains(Point{0, -179.95}))
}

func destination(from Point, bearingDeg, distKm float64) Point {
	lat1 := toRadians(from.Lat)
	lng1 := toRadians(from.Lng)
	brg := toRadians(bearingDeg)
	ang := distKm / EarthRadiusKm

	lat2 := math.Asin(math.Sin(lat1)*math.Cos(ang) + math.Cos(lat1)*math.Sin(ang)*math.Cos(brg))
	lng2 := lng1 + math.Atan2(math.Sin(brg)*math.Sin(ang)*math.Cos(lat1), math.Cos(ang)-math.Sin(lat1)*math.Sin(lat2))
	return Point{Lat: lat2 * 180 / math.Pi, Lng: lng2 * 180 / math.Pi}
}
