package geo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDistanceKm(t *testing.T) {
	t.Run("same point is zero", func(t *testing.T) {
		assert.Equal(t, 0.0, DistanceKm(37.5, 127.0, 37.5, 127.0))
	})

	t.Run("one degree of latitude", func(t *testing.T) {
		// 2πR/360
		want := 2 * math.Pi * EarthRadiusKm / 360
		assert.InDelta(t, want, DistanceKm(0, 0, 1, 0), 1e-9)
	})

	t.Run("symmetric", func(t *testing.T) {
		a := DistanceKm(37.50, 127.00, 37.51, 127.02)
		b := DistanceKm(37.51, 127.02, 37.50, 127.00)
		assert.InDelta(t, a, b, 1e-12)
	})

	t.Run("seoul to busan", func(t *testing.T) {
		d := DistanceKm(37.5665, 126.9780, 35.1796, 129.0756)
		assert.InDelta(t, 325, d, 10)
	})
}

func TestInterpolate(t *testing.T) {
	lat, lng := Interpolate(37.0, 127.0, 38.0, 128.0, 0)
	assert.Equal(t, 37.0, lat)
	assert.Equal(t, 127.0, lng)

	lat, lng = Interpolate(37.0, 127.0, 38.0, 128.0, 1)
	assert.Equal(t, 38.0, lat)
	assert.Equal(t, 128.0, lng)

	p := Lerp(Point{Lat: 37, Lng: 127}, Point{Lat: 38, Lng: 129}, 0.5)
	assert.InDelta(t, 37.5, p.Lat, 1e-12)
	assert.InDelta(t, 128.0, p.Lng, 1e-12)
}

func TestWithinRadius(t *testing.T) {
	center := Point{Lat: 37.50, Lng: 127.00}
	assert.True(t, WithinRadius(center, Point{Lat: 37.51, Lng: 127.00}, 2))
	assert.False(t, WithinRadius(center, Point{Lat: 37.60, Lng: 127.00}, 2))
}
