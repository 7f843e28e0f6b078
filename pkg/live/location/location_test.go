package location

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type blockingProvider struct{ release chan struct{} }

func (b blockingProvider) Locate(context.Context) (Location, error) {
	<-b.release
	return Location{Latitude: 1, Longitude: 2}, nil
}

type failingProvider struct{ err error }

func (f failingProvider) Locate(context.Context) (Location, error) { return Location{}, f.err }

func TestFetchStatic(t *testing.T) {
	res := Fetch(context.Background(), Static{Latitude: 19.88, Longitude: 86.09})
	require.NotNil(t, res.Location)
	assert.NoError(t, res.Err)
	assert.Equal(t, GPSLocked, res.Status())
	assert.Equal(t, 19.88, res.Location.LatLng().Latitude)
}

func TestFetchNoneAndNil(t *testing.T) {
	res := Fetch(context.Background(), None{})
	assert.Nil(t, res.Location)
	assert.ErrorIs(t, res.Err, ErrUnavailable)
	assert.Equal(t, GPSStandby, res.Status())

	res = Fetch(context.Background(), nil)
	assert.ErrorIs(t, res.Err, ErrUnavailable)
}

func TestFetchDenied(t *testing.T) {
	res := Fetch(context.Background(), failingProvider{err: errors.New("permission denied")})
	assert.Nil(t, res.Location)
	assert.EqualError(t, res.Err, "permission denied")
}

func TestWithTimeoutAbandonsSlowProvider(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	p := WithTimeout(blockingProvider{release: release}, 20*time.Millisecond)
	start := time.Now()
	res := Fetch(context.Background(), p)
	assert.Nil(t, res.Location)
	assert.ErrorIs(t, res.Err, ErrTimeout)
	assert.Less(t, time.Since(start), time.Second)
}

func TestIPProviderParsesBothShapes(t *testing.T) {
	bodies := map[string]string{
		"/ipapi":  `{"ip":"203.0.113.9","latitude":19.8876,"longitude":86.0945}`,
		"/ip-api": `{"status":"success","lat":40.7128,"lon":-74.006}`,
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(bodies[r.URL.Path]))
	}))
	defer srv.Close()

	loc, err := NewIPProvider(srv.URL + "/ipapi").Locate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 19.8876, loc.Latitude)
	assert.Equal(t, "ip", loc.Source)

	loc, err = NewIPProvider(srv.URL + "/ip-api").Locate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, -74.006, loc.Longitude)
}

func TestIPProviderErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/refused":
			_, _ = w.Write([]byte(`{"error":true,"reason":"RateLimited"}`))
		case "/empty":
			_, _ = w.Write([]byte(`{"ip":"203.0.113.9"}`))
		default:
			http.Error(w, "nope", http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()

	_, err := NewIPProvider(srv.URL + "/refused").Locate(context.Background())
	assert.ErrorContains(t, err, "RateLimited")

	_, err = NewIPProvider(srv.URL + "/empty").Locate(context.Background())
	assert.ErrorContains(t, err, "no coordinates")

	_, err = NewIPProvider(srv.URL + "/down").Locate(context.Background())
	assert.ErrorContains(t, err, "status 503")
}
