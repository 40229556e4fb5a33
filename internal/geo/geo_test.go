package geo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"geoattend/internal/apperr"
)

func TestDistanceZeroForSamePoint(t *testing.T) {
	p := Coordinates{Latitude: 19.1078, Longitude: 72.8372}
	d, err := Distance(p, p)
	require.NoError(t, err)
	assert.Equal(t, 0.0, d)
}

func TestDistanceSymmetric(t *testing.T) {
	cases := []struct {
		name string
		a, b Coordinates
	}{
		{"equator", Coordinates{0, 0}, Coordinates{0, 1}},
		{"campus", Coordinates{19.1078, 72.8372}, Coordinates{19.1080, 72.8375}},
		{"antipodal-ish", Coordinates{45, 30}, Coordinates{-45, -150}},
		{"poles", Coordinates{90, 0}, Coordinates{-90, 0}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ab, err := Distance(tc.a, tc.b)
			require.NoError(t, err)
			ba, err := Distance(tc.b, tc.a)
			require.NoError(t, err)
			assert.InDelta(t, ab, ba, 1e-9)
			assert.GreaterOrEqual(t, ab, 0.0)
		})
	}
}

func TestDistanceKnownValues(t *testing.T) {
	// One degree of longitude at the equator is ~111.19 km.
	d, err := Distance(Coordinates{0, 0}, Coordinates{0, 1})
	require.NoError(t, err)
	assert.InDelta(t, 111195, d, 100)

	// ~0.0009 degrees east at the equator is ~100 m.
	d, err = Distance(Coordinates{0, 0}, Coordinates{0, 0.0009})
	require.NoError(t, err)
	assert.InDelta(t, 100, d, 1)

	// ~0.002 degrees east is ~222 m.
	d, err = Distance(Coordinates{0, 0}, Coordinates{0, 0.002})
	require.NoError(t, err)
	assert.InDelta(t, 222, d, 1)
}

func TestDistanceRejectsInvalidInput(t *testing.T) {
	valid := Coordinates{0, 0}
	bad := []Coordinates{
		{Latitude: math.NaN(), Longitude: 0},
		{Latitude: 0, Longitude: math.Inf(1)},
		{Latitude: 91, Longitude: 0},
		{Latitude: -90.0001, Longitude: 0},
		{Latitude: 0, Longitude: 181},
		{Latitude: 0, Longitude: -180.5},
	}
	for _, c := range bad {
		_, err := Distance(valid, c)
		require.Error(t, err)
		assert.Equal(t, apperr.CodeInvalidCoordinates, apperr.CodeOf(err))

		_, err = Distance(c, valid)
		require.Error(t, err)
		assert.Equal(t, apperr.CodeInvalidCoordinates, apperr.CodeOf(err))
	}
}

func TestWithinRadiusInclusiveBoundary(t *testing.T) {
	assert.True(t, WithinRadius(99.9, 100))
	assert.True(t, WithinRadius(100, 100))
	assert.False(t, WithinRadius(100.0001, 100))
	assert.False(t, WithinRadius(222, 100))
}
