package geo

import (
	"errors"
	"math"
	"testing"

	"github.com/ai4ce/vpr-collector/pkg/core"
)

func newProjector(t *testing.T) *Projector {
	t.Helper()
	p, err := NewProjector(DefaultOrigin)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return p
}

func TestNewProjector_InvalidOrigin(t *testing.T) {
	for _, o := range []Origin{
		{Lat: 89, Lon: 0},
		{Lat: 0, Lon: 181},
		{Lat: math.NaN(), Lon: 0},
	} {
		if _, err := NewProjector(o); !errors.Is(err, ErrInvalidCoordinates) {
			t.Errorf("origin %+v: expected ErrInvalidCoordinates, got %v", o, err)
		}
	}
}

func TestWorldToLonLat_Origin(t *testing.T) {
	p := newProjector(t)
	lon, lat := p.WorldToLonLat(0, 0)
	if math.Abs(lon-8.0) > 1e-9 || math.Abs(lat-49.0) > 1e-9 {
		t.Errorf("expected (8, 49), got (%f, %f)", lon, lat)
	}
}

func TestWorldToLonLat_Axes(t *testing.T) {
	p := newProjector(t)

	lonE, latE := p.WorldToLonLat(1000, 0)
	if lonE <= 8.0 {
		t.Errorf("+x should move east, got lon %f", lonE)
	}
	if math.Abs(latE-49.0) > 1e-9 {
		t.Errorf("+x should keep latitude, got %f", latE)
	}

	_, latS := p.WorldToLonLat(0, 1000)
	if latS >= 49.0 {
		t.Errorf("+y should move south, got lat %f", latS)
	}
}

func TestPointFromPose(t *testing.T) {
	p := newProjector(t)
	pt := p.PointFromPose(core.Pose{X: 10, Y: 5, Yaw: 90})

	coords, ok := pt.Coordinates()
	if !ok {
		t.Fatal("expected valid coordinates")
	}
	if math.Abs(coords.X-(p.ox+10)) > 1e-6 {
		t.Errorf("expected X=%f, got %f", p.ox+10, coords.X)
	}
	if math.Abs(coords.Y-(p.oy-5)) > 1e-6 {
		t.Errorf("expected Y=%f, got %f", p.oy-5, coords.Y)
	}
}

func TestPointFromPose_NonFinite(t *testing.T) {
	p := newProjector(t)
	pt := p.PointFromPose(core.Pose{X: math.NaN()})
	if !pt.IsEmpty() {
		t.Error("expected empty point for NaN pose")
	}
}

func TestTrack(t *testing.T) {
	p := newProjector(t)
	ls := p.Track([]core.Pose{{X: 0, Y: 0}, {X: math.Inf(1)}, {X: 10, Y: 0}, {X: 10, Y: 10}})
	if got := ls.Coordinates().Length(); got != 3 {
		t.Fatalf("expected 3 points, got %d", got)
	}
	first := ls.Coordinates().GetXY(0)
	if math.Abs(first.X-8.0) > 1e-9 || math.Abs(first.Y-49.0) > 1e-9 {
		t.Errorf("expected first point at origin, got %+v", first)
	}
}

func TestTrack_TooShort(t *testing.T) {
	p := newProjector(t)
	if !p.Track([]core.Pose{{X: 1}}).IsEmpty() {
		t.Error("expected empty line for a single pose")
	}
	if !p.Track(nil).IsEmpty() {
		t.Error("expected empty line for no poses")
	}
}
