// Package entity holds the replicated shape of simulation objects.
package entity

import (
	"math"
	"sync"

	"github.com/danmuck/replinet/internal/replication"
)

type Vec2 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// GameObject is a positioned, oriented simulation object.
type GameObject struct {
	position Vec2
	heading  int
}

func NewGameObject(position Vec2, heading float64) *GameObject {
	g := &GameObject{position: position}
	g.SetHeading(heading)
	return g
}

func (g *GameObject) Position() Vec2 {
	return g.position
}

func (g *GameObject) SetPosition(p Vec2) {
	g.position = p
}

// PositionTuple is the position as an [x, y] pair.
func (g *GameObject) PositionTuple() [2]float64 {
	return [2]float64{g.position.X, g.position.Y}
}

// Heading is in whole degrees within [0, 360).
func (g *GameObject) Heading() int {
	return g.heading
}

// SetHeading rounds half to even, then wraps into [0, 360).
func (g *GameObject) SetHeading(deg float64) {
	g.heading = NormalizeHeading(int(math.RoundToEven(deg)))
}

func NormalizeHeading(deg int) int {
	deg %= 360
	if deg < 0 {
		deg += 360
	}
	return deg
}

var gameObjectAccessors = replication.Accessors[*GameObject]{
	"heading":        func(g *GameObject) any { return g.Heading() },
	"position":       func(g *GameObject) any { return g.Position() },
	"position_tuple": func(g *GameObject) any { return g.PositionTuple() },
}

var gameObjectDescriptor = sync.OnceValues(func() (*replication.Descriptor[*GameObject], error) {
	return replication.NewDescriptor("GameObject", gameObjectAccessors,
		replication.Declare("heading"),
		replication.DeclareAs("position", "position_tuple"),
	)
})

// Descriptor is the replication descriptor shared by every GameObject.
func Descriptor() (*replication.Descriptor[*GameObject], error) {
	return gameObjectDescriptor()
}
