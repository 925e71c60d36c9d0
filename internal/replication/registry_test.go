package replication

import (
	"errors"
	"testing"

	"github.com/danmuck/replinet/internal/testutil/testlog"
)

type ship struct {
	heading int
	x, y    float64
	hull    int
}

var shipAccessors = Accessors[*ship]{
	"heading":        func(s *ship) any { return s.heading },
	"position_tuple": func(s *ship) any { return [2]float64{s.x, s.y} },
	"hull":           func(s *ship) any { return s.hull },
}

func newShipDescriptor(t *testing.T) *Descriptor[*ship] {
	t.Helper()
	d, err := NewDescriptor("ship", shipAccessors, Declare("heading"), DeclareAs("position", "position_tuple"))
	if err != nil {
		t.Fatalf("descriptor: %v", err)
	}
	return d
}

func TestSnapshotReadsLiveValues(t *testing.T) {
	testlog.Start(t)
	d := newShipDescriptor(t)
	s := &ship{heading: 10, x: 1, y: 2}

	first := d.Snapshot(s)
	s.heading = 20
	second := d.Snapshot(s)

	if first["heading"] != 10 || second["heading"] != 20 {
		t.Fatalf("snapshot not fresh: first=%v second=%v", first, second)
	}
	if s.heading != 20 || s.x != 1 {
		t.Fatalf("snapshot mutated entity: %+v", s)
	}
	if _, ok := second["hull"]; ok {
		t.Fatalf("undeclared property replicated: %v", second)
	}
}

func TestNewDescriptorRejectsBadDeclarations(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		name  string
		decls []Declaration
		want  error
	}{
		{"empty name", []Declaration{Declare(" ")}, ErrEmptyName},
		{"duplicate", []Declaration{Declare("heading"), DeclareAs("heading", "hull")}, ErrDuplicateName},
		{"unknown accessor", []Declaration{DeclareAs("speed", "velocity")}, ErrUnknownAccessor},
	}
	for _, tc := range cases {
		if _, err := NewDescriptor("ship", shipAccessors, tc.decls...); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
}

func TestDeclarationAccessorDefaultsToName(t *testing.T) {
	testlog.Start(t)
	d, err := NewDescriptor("ship", shipAccessors, Declaration{Name: "hull"})
	if err != nil {
		t.Fatalf("descriptor: %v", err)
	}
	v, ok := d.Read(&ship{hull: 3}, "hull")
	if !ok || v != 3 {
		t.Fatalf("read hull: %v ok=%v", v, ok)
	}
	if _, ok := d.Read(&ship{}, "heading"); ok {
		t.Fatalf("read undeclared property")
	}
}

func TestBindAndDiff(t *testing.T) {
	testlog.Start(t)
	d := newShipDescriptor(t)
	s := &ship{heading: 45, x: 3, y: 4}
	src := Bind(d, s)
	if src.TypeName() != "ship" {
		t.Fatalf("type name: %q", src.TypeName())
	}

	prev := src.Snapshot()
	s.x = 5
	next := src.Snapshot()
	diff := Diff(prev, next)
	if len(diff) != 1 || diff["position"] != [2]float64{5, 4} {
		t.Fatalf("unexpected diff: %v", diff)
	}
	if len(Diff(nil, next)) != 2 {
		t.Fatalf("diff from nothing must include every key")
	}
	if len(Diff(next, src.Snapshot())) != 0 {
		t.Fatalf("unchanged entity produced a diff")
	}
}
