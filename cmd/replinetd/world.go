//go:build linux || darwin || freebsd || netbsd || openbsd

package main

import (
	"errors"
	"fmt"
	"sort"

	"github.com/danmuck/replinet/internal/entity"
	"github.com/danmuck/replinet/internal/replication"
	"github.com/danmuck/replinet/internal/server"
	"github.com/tidwall/gjson"
)

var (
	ErrUnknownEntity   = errors.New("unknown entity")
	ErrUnknownProperty = errors.New("unknown property")
)

// demoWorld is a fixed set of replicated entities served by the world
// actions. It is only touched from the server loop.
type demoWorld struct {
	desc    *replication.Descriptor[*entity.GameObject]
	objects map[string]*entity.GameObject
	sources map[string]replication.Source
	// sent is the last snapshot handed out by the changes action.
	sent map[string]replication.Snapshot
}

func newDemoWorld() (*demoWorld, error) {
	desc, err := entity.Descriptor()
	if err != nil {
		return nil, err
	}
	w := &demoWorld{
		desc: desc,
		objects: map[string]*entity.GameObject{
			"ship-1":     entity.NewGameObject(entity.Vec2{X: 100, Y: 120}, 90),
			"ship-2":     entity.NewGameObject(entity.Vec2{X: -40, Y: 8.5}, 270),
			"asteroid-1": entity.NewGameObject(entity.Vec2{X: 512, Y: 384}, 405),
		},
		sources: make(map[string]replication.Source),
		sent:    make(map[string]replication.Snapshot),
	}
	for id, obj := range w.objects {
		w.sources[id] = replication.Bind(desc, obj)
	}
	return w, nil
}

func (w *demoWorld) register(h *server.ActionHandler) error {
	actions := []struct {
		name string
		fn   server.ActionFunc
	}{
		{"state", w.stateAction},
		{"schema", w.schemaAction},
		{"prop", w.propAction},
		{"move", w.moveAction},
		{"changes", w.changesAction},
	}
	for _, a := range actions {
		if err := h.Register(a.name, a.fn); err != nil {
			return err
		}
	}
	return nil
}

type entityState struct {
	ID    string               `json:"id"`
	Type  string               `json:"type"`
	Props replication.Snapshot `json:"props"`
}

func (w *demoWorld) ids() []string {
	ids := make([]string, 0, len(w.sources))
	for id := range w.sources {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (w *demoWorld) object(id string) (*entity.GameObject, error) {
	obj, ok := w.objects[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEntity, id)
	}
	return obj, nil
}

// stateAction answers with one entity when value names it, otherwise with
// every entity sorted by id.
func (w *demoWorld) stateAction(value gjson.Result) (any, error) {
	if id := value.String(); value.Exists() && id != "" {
		src, ok := w.sources[id]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownEntity, id)
		}
		return entityState{ID: id, Type: src.TypeName(), Props: src.Snapshot()}, nil
	}
	ids := w.ids()
	out := make([]entityState, 0, len(ids))
	for _, id := range ids {
		src := w.sources[id]
		out = append(out, entityState{ID: id, Type: src.TypeName(), Props: src.Snapshot()})
	}
	return out, nil
}

type propertySchema struct {
	Name     string `json:"name"`
	Accessor string `json:"accessor"`
}

// schemaAction lists the replicated properties in declaration order.
func (w *demoWorld) schemaAction(gjson.Result) (any, error) {
	names := w.desc.Names()
	props := make([]propertySchema, 0, len(names))
	for _, name := range names {
		decl, _ := w.desc.Lookup(name)
		props = append(props, propertySchema{Name: decl.Name, Accessor: decl.Accessor})
	}
	return map[string]any{"type": w.desc.TypeName(), "props": props}, nil
}

// propAction reads one property: {"id": "ship-1", "name": "heading"}.
func (w *demoWorld) propAction(value gjson.Result) (any, error) {
	id, name := value.Get("id").String(), value.Get("name").String()
	obj, err := w.object(id)
	if err != nil {
		return nil, err
	}
	v, ok := w.desc.Read(obj, name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProperty, name)
	}
	return map[string]any{"id": id, "name": name, "value": v}, nil
}

// moveAction updates an entity: {"id": "ship-1", "heading": 45,
// "position": {"x": 1, "y": 2}}. Omitted fields are left alone.
func (w *demoWorld) moveAction(value gjson.Result) (any, error) {
	id := value.Get("id").String()
	obj, err := w.object(id)
	if err != nil {
		return nil, err
	}
	if h := value.Get("heading"); h.Exists() {
		obj.SetHeading(h.Float())
	}
	if p := value.Get("position"); p.Exists() {
		obj.SetPosition(entity.Vec2{X: p.Get("x").Float(), Y: p.Get("y").Float()})
	}
	return entityState{ID: id, Type: w.desc.TypeName(), Props: w.desc.Snapshot(obj)}, nil
}

// changesAction returns the properties that changed since the previous call,
// one entry per entity with at least one change.
func (w *demoWorld) changesAction(gjson.Result) (any, error) {
	out := []entityState{}
	for _, id := range w.ids() {
		src := w.sources[id]
		next := src.Snapshot()
		if diff := replication.Diff(w.sent[id], next); len(diff) > 0 {
			out = append(out, entityState{ID: id, Type: src.TypeName(), Props: diff})
		}
		w.sent[id] = next
	}
	return out, nil
}
