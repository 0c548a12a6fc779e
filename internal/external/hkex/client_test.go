package hkex

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/aegis-warrant/pkg/httputil"
	"github.com/wonny/aegis-warrant/pkg/logger"
)

const sampleHTML = `
<html><body>
<table>
	<tr><th>Date</th><th>Holiday</th></tr>
	<tr><td>1/1/2026</td><td>The first day of January</td></tr>
	<tr><td>17 February 2026</td><td>Lunar New Year's Day</td></tr>
	<tr><td>Friday</td><td>2026-04-03</td><td>Good Friday</td></tr>
	<tr><td>1/1/2026</td><td>Duplicate row</td></tr>
	<tr><td>25/12/2025</td><td>Christmas Day</td></tr>
	<tr><td>not a date</td><td>ignored</td></tr>
	<tr><td>single cell</td></tr>
</table>
</body></html>`

func TestParseHolidayHTML(t *testing.T) {
	holidays, err := parseHolidayHTML(sampleHTML, 2026)
	require.NoError(t, err)
	require.Len(t, holidays, 3)

	assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), holidays[0].Date)
	assert.Equal(t, "The first day of January", holidays[0].Name)
	assert.Equal(t, time.Date(2026, 2, 17, 0, 0, 0, 0, time.UTC), holidays[1].Date)
	assert.Equal(t, "Lunar New Year's Day", holidays[1].Name)
	assert.Equal(t, time.Date(2026, 4, 3, 0, 0, 0, 0, time.UTC), holidays[2].Date)
	assert.Equal(t, "Friday", holidays[2].Name)
}

func TestParseHolidayHTML_AllYears(t *testing.T) {
	holidays, err := parseHolidayHTML(sampleHTML, 0)
	require.NoError(t, err)
	require.Len(t, holidays, 4)
	assert.Equal(t, 2025, holidays[0].Date.Year(), "sorted ascending")
}

func TestFetchHolidays(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(sampleHTML))
	}))
	defer server.Close()

	c := NewClient(httputil.New(logger.Nop(), time.Second), nil, server.URL)
	holidays, err := c.FetchHolidays(context.Background(), 2026)
	require.NoError(t, err)
	assert.Len(t, holidays, 3)
}

func TestFetchHolidays_BadStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	c := NewClient(httputil.New(logger.Nop(), time.Second).DisableRetry(), nil, server.URL)
	_, err := c.FetchHolidays(context.Background(), 2026)
	assert.Error(t, err)
}

func TestNewClient_DefaultURL(t *testing.T) {
	c := NewClient(nil, nil, "")
	assert.Equal(t, DefaultHolidayURL, c.url)
}
