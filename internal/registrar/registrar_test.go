package registrar

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const fixtureOpen = `
<table>
<tr><th class="ddlabel">Intro to Computing - Lecture - CS 1301 - A<br/></th></tr>
<tr><th><SPAN>Seats</SPAN></th><td>30</td><td>29</td><td>1</td></tr>
</table>
`

const fixtureClosed = `
<table>
<tr><th class="ddlabel">Intro to Computing - Lecture - CS 1301 - A</th></tr>
<tr><th><SPAN>Seats</SPAN></th><td>30</td><td>30</td><td>0</td></tr>
</table>
`

const fixtureMissingSeats = `
<table>
<tr><th class="ddlabel">Intro to Computing - Lecture - CS 1301 - A</th></tr>
</table>
`

const fixtureNotFound = `<html><body>No records found.</body></html>`

const fixtureShortIdentity = `
<table>
<tr><th class="ddlabel">Weird Listing</th></tr>
<tr><th><SPAN>Seats</SPAN></th><td>10</td><td>5</td><td>5</td></tr>
</table>
`

func TestParseOpenCourse(t *testing.T) {
	obs, err := parse(fixtureOpen, time.Now())
	require.NoError(t, err)
	require.Equal(t, "Intro to Computing", obs.CourseName)
	require.Equal(t, "CS 1301", obs.CourseID)
	require.Equal(t, "A", obs.CourseSection)
	require.True(t, obs.IsOpen)
	require.Equal(t, 1, obs.SeatsRemaining)
	require.Equal(t, 30, obs.TotalSeats)
}

func TestParseClosedCourse(t *testing.T) {
	obs, err := parse(fixtureClosed, time.Now())
	require.NoError(t, err)
	require.False(t, obs.IsOpen)
	require.Equal(t, 0, obs.SeatsRemaining)
}

func TestParseMissingSeatsTreatedAsClosedNotFailed(t *testing.T) {
	obs, err := parse(fixtureMissingSeats, time.Now())
	require.NoError(t, err)
	require.False(t, obs.IsOpen)
	require.Equal(t, 0, obs.SeatsRemaining)
	require.Equal(t, 0, obs.TotalSeats)
}

func TestParseNotFound(t *testing.T) {
	_, err := parse(fixtureNotFound, time.Now())
	require.Error(t, err)
	require.True(t, IsNotFound(err))
}

func TestParseShortIdentityFallsBackToFullText(t *testing.T) {
	obs, err := parse(fixtureShortIdentity, time.Now())
	require.NoError(t, err)
	require.Equal(t, "Weird Listing", obs.CourseName)
	require.Equal(t, "N/A", obs.CourseID)
	require.Equal(t, "N/A", obs.CourseSection)
}

func TestFetchNon200ReturnsHTTPStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Term: "202508", RequestsPerSecond: 100, Burst: 10}, zerolog.Nop())
	_, err := c.Fetch(t.Context(), "12345")
	require.Error(t, err)
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	require.Equal(t, KindHTTPStatus, fe.Kind)
	require.Equal(t, http.StatusServiceUnavailable, fe.Status)
}

func TestFetchSuccessParsesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "term_in=202508&crn_in=12345", r.URL.RawQuery)
		_, _ = w.Write([]byte(fixtureOpen))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Term: "202508", RequestsPerSecond: 100, Burst: 10}, zerolog.Nop())
	obs, err := c.Fetch(t.Context(), "12345")
	require.NoError(t, err)
	require.True(t, obs.IsOpen)
	require.Equal(t, 1, obs.SeatsRemaining)
}
