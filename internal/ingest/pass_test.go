package ingest

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/casefeed/internal/delta"
	"github.com/ethpandaops/casefeed/internal/point"
	"github.com/ethpandaops/casefeed/internal/record"
	"github.com/ethpandaops/casefeed/internal/rollup"
	"github.com/ethpandaops/casefeed/internal/timestamp"
)

func testSchema() *Schema {
	cfg := DefaultConfig()
	cfg.Metrics = []string{"Confirmed", "Deaths"}

	return cfg.Schema()
}

func row(fine, confirmed, deaths, updated string) record.Raw {
	return record.Raw{
		"FIPS":           "1001",
		"Admin2":         fine,
		"Province_State": "X",
		"Country_Region": "US",
		"Last_Update":    updated,
		"Confirmed":      confirmed,
		"Deaths":         deaths,
		"Combined_Key":   fine + ", X, US",
	}
}

func findPoint(t *testing.T, batch []point.Point, measurement, fine, field string) point.Point {
	t.Helper()

	for _, p := range batch {
		if p.Measurement == measurement && p.Tags["Admin2"] == fine && p.Field == field {
			return p
		}
	}

	require.Failf(t, "point not found", "%s/%s/%s", measurement, fine, field)

	return point.Point{}
}

func TestPass_EmitsCumulativeAndDeltaPerMetric(t *testing.T) {
	tracker := delta.NewTracker()
	p := NewPass(0, "04-01-2020.csv", testSchema(), tracker, timestamp.NewResolver())

	require.NoError(t, p.Row(row("Alpha", "10", "1", "2020-04-01 23:34:21")))

	batch := p.Finish()

	// 2 metrics x 2 kinds + 2 aggregates.
	require.Len(t, batch, 6)

	cum := findPoint(t, batch, "daily", "Alpha", "Confirmed")
	assert.Equal(t, point.KindCumulative, cum.Kind)
	assert.Equal(t, 10.0, cum.Value)
	assert.Equal(t, time.Date(2020, 4, 1, 23, 34, 21, 0, time.UTC), cum.Time)
	assert.Equal(t, "X", cum.Tags["Province_State"])
	assert.NotContains(t, cum.Tags, "Confirmed")
	assert.NotContains(t, cum.Tags, "FIPS")
	assert.NotContains(t, cum.Tags, "Last_Update")
	assert.NotContains(t, cum.Tags, "Combined_Key")

	d := findPoint(t, batch, "daily_delta", "Alpha", "Confirmed")
	assert.Equal(t, point.KindDelta, d.Kind)
	assert.Equal(t, 10.0, d.Value)
	assert.Equal(t, cum.Tags, d.Tags)
	assert.Equal(t, cum.Time, d.Time)

	agg := findPoint(t, batch, "daily_delta", rollup.DefaultPlaceholder, "Deaths")
	assert.Equal(t, 1.0, agg.Value)

	assert.Equal(t, 1, p.Rows())
	assert.Equal(t, 2, p.Aggregates())
}

func TestPass_EmptyMetricIsZero(t *testing.T) {
	p := NewPass(0, "f.csv", testSchema(), delta.NewTracker(), timestamp.NewResolver())

	require.NoError(t, p.Row(row("Alpha", "10", "", "2020-04-01 23:34:21")))

	batch := p.Finish()
	assert.Equal(t, 0.0, findPoint(t, batch, "daily", "Alpha", "Deaths").Value)
}

func TestPass_AggregatesUseLatestTimestamp(t *testing.T) {
	p := NewPass(0, "f.csv", testSchema(), delta.NewTracker(), timestamp.NewResolver())

	require.NoError(t, p.Row(row("Alpha", "10", "1", "2020-04-01 23:34:21")))
	require.NoError(t, p.Row(row("Beta", "4", "0", "4/1/2020 22:00")))

	batch := p.Finish()

	agg := findPoint(t, batch, "daily_delta", rollup.DefaultPlaceholder, "Confirmed")
	assert.Equal(t, 14.0, agg.Value)
	assert.Equal(t, time.Date(2020, 4, 1, 23, 34, 21, 0, time.UTC), agg.Time)
	assert.Equal(t, "X", agg.Tags["Province_State"])
}

func TestPass_RejectedRowLeavesTrackerUntouched(t *testing.T) {
	tracker := delta.NewTracker()
	p := NewPass(0, "f.csv", testSchema(), tracker, timestamp.NewResolver())

	err := p.Row(row("Alpha", "10", "one", "2020-04-01 23:34:21"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, record.ErrMalformed))

	reason, ok := IsRowError(err)
	assert.True(t, ok)
	assert.Equal(t, ReasonMetric, reason)

	err = p.Row(row("Alpha", "10", "1", "yesterday"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, timestamp.ErrUnparseable))

	reason, _ = IsRowError(err)
	assert.Equal(t, ReasonTimestamp, reason)

	var rowErr *RowError
	require.True(t, errors.As(err, &rowErr))
	assert.Equal(t, 2, rowErr.Row)
	assert.Contains(t, err.Error(), "f.csv row 2")

	assert.Zero(t, tracker.Len())
	assert.Empty(t, p.Finish())
}

func TestPass_TrackerCarriesAcrossPasses(t *testing.T) {
	tracker := delta.NewTracker()
	resolver := timestamp.NewResolver()
	schema := testSchema()

	first := NewPass(0, "a.csv", schema, tracker, resolver)
	require.NoError(t, first.Row(row("Alpha", "10", "1", "2020-04-01 23:34:21")))
	first.Finish()

	second := NewPass(1, "b.csv", schema, tracker, resolver)
	require.NoError(t, second.Row(row("Alpha", "15", "1", "2020-04-02 23:34:21")))

	batch := second.Finish()
	assert.Equal(t, 5.0, findPoint(t, batch, "daily_delta", "Alpha", "Confirmed").Value)
	assert.Equal(t, 0.0, findPoint(t, batch, "daily_delta", "Alpha", "Deaths").Value)
	assert.Equal(t, 5.0, findPoint(t, batch, "daily_delta", rollup.DefaultPlaceholder, "Confirmed").Value)
	assert.Equal(t, 1, second.Index())
}
