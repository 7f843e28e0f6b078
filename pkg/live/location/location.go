// Package location resolves a one-shot position used to seed a session.
// Lookups never fail the caller: Fetch reports a missing position as a nil
// Location with the reason attached.
package location

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vango-go/vai-live/pkg/live/protocol"
)

const DefaultTimeout = 10 * time.Second

var (
	// ErrUnavailable means no positioning backend is configured.
	ErrUnavailable = errors.New("location unavailable")
	ErrTimeout     = errors.New("location lookup timed out")
)

type Location struct {
	Latitude  float64
	Longitude float64
	Source    string
}

func (l Location) LatLng() protocol.LatLng {
	return protocol.LatLng{Latitude: l.Latitude, Longitude: l.Longitude}
}

func (l Location) String() string {
	return fmt.Sprintf("%.4f, %.4f", l.Latitude, l.Longitude)
}

type Provider interface {
	Locate(ctx context.Context) (Location, error)
}

// GPSStatus is the coarse indicator shown to the user.
type GPSStatus string

const (
	GPSStandby   GPSStatus = "standby"
	GPSSearching GPSStatus = "searching"
	GPSLocked    GPSStatus = "locked"
)

// Result is the outcome of Fetch. Err is informational only.
type Result struct {
	Location *Location
	Err      error
}

func (r Result) Status() GPSStatus {
	if r.Location != nil {
		return GPSLocked
	}
	return GPSStandby
}

// Fetch runs one lookup. It returns when the provider answers or ctx ends,
// whichever comes first; a provider that ignores ctx is abandoned.
func Fetch(ctx context.Context, p Provider) Result {
	if p == nil {
		return Result{Err: ErrUnavailable}
	}
	type answer struct {
		loc Location
		err error
	}
	ch := make(chan answer, 1)
	go func() {
		loc, err := p.Locate(ctx)
		ch <- answer{loc: loc, err: err}
	}()

	select {
	case a := <-ch:
		if a.err != nil {
			return Result{Err: a.err}
		}
		loc := a.loc
		return Result{Location: &loc}
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Result{Err: ErrTimeout}
		}
		return Result{Err: ctx.Err()}
	}
}

type timeoutProvider struct {
	p Provider
	d time.Duration
}

// WithTimeout bounds every Locate call on p by d.
func WithTimeout(p Provider, d time.Duration) Provider {
	if d <= 0 {
		d = DefaultTimeout
	}
	return timeoutProvider{p: p, d: d}
}

func (t timeoutProvider) Locate(ctx context.Context) (Location, error) {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	res := Fetch(ctx, t.p)
	if res.Location == nil {
		return Location{}, res.Err
	}
	return *res.Location, nil
}

// Static is a fixed position, typically from configuration.
type Static struct {
	Latitude  float64
	Longitude float64
}

func (s Static) Locate(context.Context) (Location, error) {
	return Location{Latitude: s.Latitude, Longitude: s.Longitude, Source: "static"}, nil
}

// None is the provider used when positioning is disabled.
type None struct{}

func (None) Locate(context.Context) (Location, error) {
	return Location{}, ErrUnavailable
}
