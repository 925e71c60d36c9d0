package entity

import (
	"testing"

	"github.com/danmuck/replinet/internal/testutil/testlog"
)

func TestSetHeadingNormalizes(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		in   float64
		want int
	}{
		{0, 0},
		{359.4, 359},
		{359.6, 0},
		{360, 0},
		{725, 5},
		{-90, 270},
		{-720, 0},
		{2.5, 2},
		{3.5, 4},
	}
	g := NewGameObject(Vec2{}, 0)
	for _, tc := range cases {
		g.SetHeading(tc.in)
		if g.Heading() != tc.want {
			t.Fatalf("SetHeading(%v): got=%d want=%d", tc.in, g.Heading(), tc.want)
		}
	}
}

func TestDescriptorDeclaresHeadingAndPosition(t *testing.T) {
	testlog.Start(t)
	desc, err := Descriptor()
	if err != nil {
		t.Fatalf("descriptor: %v", err)
	}
	names := desc.Names()
	if len(names) != 2 || names[0] != "heading" || names[1] != "position" {
		t.Fatalf("unexpected names: %v", names)
	}
	decl, ok := desc.Lookup("position")
	if !ok || decl.Accessor != "position_tuple" {
		t.Fatalf("position declaration: %+v ok=%v", decl, ok)
	}

	g := NewGameObject(Vec2{X: 1.5, Y: -2}, 90)
	snap := desc.Snapshot(g)
	if snap["heading"] != 90 {
		t.Fatalf("heading: %v", snap["heading"])
	}
	if snap["position"] != [2]float64{1.5, -2} {
		t.Fatalf("position: %v", snap["position"])
	}

	again, err := Descriptor()
	if err != nil || again != desc {
		t.Fatalf("descriptor must be shared per type")
	}
}
