package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDate_StringAndParse(t *testing.T) {
	d := NewDate(2025, time.September, 3)
	assert.Equal(t, "2025-09-03", d.String())

	parsed, err := ParseDate("2025-09-03")
	require.NoError(t, err)
	assert.Equal(t, d, parsed)

	_, err = ParseDate("03/09/2025")
	assert.Error(t, err)
}

func TestDate_Ordering(t *testing.T) {
	a := NewDate(2025, time.August, 31)
	b := NewDate(2025, time.September, 1)
	assert.True(t, a.Before(b))
	assert.True(t, b.After(a))
	assert.False(t, a.After(a))
	assert.Equal(t, b, a.AddDays(1))
}

func TestDate_JSON(t *testing.T) {
	d := NewDate(2025, time.September, 30)
	b, err := json.Marshal(d)
	require.NoError(t, err)
	assert.Equal(t, `"2025-09-30"`, string(b))

	var back Date
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, d, back)

	var zero Date
	b, err = json.Marshal(zero)
	require.NoError(t, err)
	assert.Equal(t, "null", string(b))
	require.NoError(t, json.Unmarshal([]byte("null"), &back))
	assert.True(t, back.IsZero())
}

func TestDateRange_Contains(t *testing.T) {
	r := DateRange{Start: NewDate(2025, time.September, 1), End: NewDate(2025, time.September, 30)}
	require.NoError(t, r.Validate())

	assert.True(t, r.Contains(r.Start))
	assert.True(t, r.Contains(r.End))
	assert.True(t, r.Contains(NewDate(2025, time.September, 15)))
	assert.False(t, r.Contains(r.Start.AddDays(-1)))
	assert.False(t, r.Contains(r.End.AddDays(1)))
}

func TestDateRange_Validate(t *testing.T) {
	assert.Error(t, DateRange{}.Validate())
	backwards := DateRange{Start: NewDate(2025, time.September, 30), End: NewDate(2025, time.September, 1)}
	assert.Error(t, backwards.Validate())
}

func TestParseDateRange(t *testing.T) {
	r, err := ParseDateRange("2025-09-01..2025-09-30")
	require.NoError(t, err)
	assert.Equal(t, "2025-09-01..2025-09-30", r.Key())

	_, err = ParseDateRange("2025-09-01")
	assert.Error(t, err)
	_, err = ParseDateRange("2025-09-30..2025-09-01")
	assert.Error(t, err)
}
