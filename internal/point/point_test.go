package point

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validPoint() Point {
	return Point{
		Kind:        KindCumulative,
		Measurement: "daily",
		Tags:        map[string]string{"Province_State": "X"},
		Field:       "Confirmed",
		Value:       10,
		Time:        time.Date(2020, 4, 1, 23, 0, 0, 0, time.UTC),
	}
}

func TestValidate_OK(t *testing.T) {
	require.NoError(t, validPoint().Validate())
}

func TestValidate_NonFinite(t *testing.T) {
	for _, v := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		p := validPoint()
		p.Value = v

		err := p.Validate()
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalid)
	}
}

func TestValidate_ZeroTime(t *testing.T) {
	p := validPoint()
	p.Time = time.Time{}

	err := p.Validate()
	require.ErrorIs(t, err, ErrInvalid)
	assert.Contains(t, err.Error(), "zero timestamp")
}

func TestValidate_MissingNames(t *testing.T) {
	p := validPoint()
	p.Measurement = ""
	assert.ErrorIs(t, p.Validate(), ErrInvalid)

	p = validPoint()
	p.Field = ""
	assert.ErrorIs(t, p.Validate(), ErrInvalid)
}

func TestMeasurements_For(t *testing.T) {
	m := DefaultMeasurements()

	assert.Equal(t, "daily", m.For(KindCumulative))
	assert.Equal(t, "daily_delta", m.For(KindDelta))
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "cumulative", KindCumulative.String())
	assert.Equal(t, "delta", KindDelta.String())
	assert.Equal(t, "kind(7)", Kind(7).String())
}

func TestCountByMeasurement(t *testing.T) {
	a := validPoint()
	b := validPoint()
	c := validPoint()
	c.Measurement = "daily_delta"

	counts := CountByMeasurement([]Point{a, b, c})
	assert.Equal(t, map[string]int{"daily": 2, "daily_delta": 1}, counts)
}
