// Package replication declares, per entity type, which attributes are sent
// from server to clients and how to read them.
//
// A Descriptor is built once per type from a static declaration list and is
// shared by every entity of that type. Snapshot reads live values at call
// time; it never caches and never mutates the entity.
package replication

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
)

var (
	ErrEmptyName       = errors.New("replication: empty property name")
	ErrDuplicateName   = errors.New("replication: duplicate property name")
	ErrUnknownAccessor = errors.New("replication: unknown accessor")
)

// Snapshot maps wire names to the values read for one entity.
type Snapshot map[string]any

// Declaration names one replicated property and the accessor that reads it.
type Declaration struct {
	Name     string
	Accessor string
}

// Declare replicates the attribute read by the accessor of the same name.
func Declare(name string) Declaration {
	return Declaration{Name: name, Accessor: name}
}

// DeclareAs replicates name using a differently named accessor.
func DeclareAs(name, accessor string) Declaration {
	return Declaration{Name: name, Accessor: accessor}
}

// Accessor reads one value from an entity.
type Accessor[T any] func(T) any

// Accessors is the set of readable attributes a type exposes, by name.
type Accessors[T any] map[string]Accessor[T]

type property[T any] struct {
	decl Declaration
	read Accessor[T]
}

// Descriptor is the replication capability of one entity type.
type Descriptor[T any] struct {
	typeName string
	props    []property[T]
	index    map[string]int
}

func NewDescriptor[T any](typeName string, accessors Accessors[T], decls ...Declaration) (*Descriptor[T], error) {
	d := &Descriptor[T]{
		typeName: typeName,
		props:    make([]property[T], 0, len(decls)),
		index:    make(map[string]int, len(decls)),
	}
	for _, decl := range decls {
		decl.Name = strings.TrimSpace(decl.Name)
		decl.Accessor = strings.TrimSpace(decl.Accessor)
		if decl.Name == "" {
			return nil, fmt.Errorf("%s: %w", typeName, ErrEmptyName)
		}
		if decl.Accessor == "" {
			decl.Accessor = decl.Name
		}
		if _, ok := d.index[decl.Name]; ok {
			return nil, fmt.Errorf("%s: %w: %q", typeName, ErrDuplicateName, decl.Name)
		}
		read, ok := accessors[decl.Accessor]
		if !ok || read == nil {
			return nil, fmt.Errorf("%s: %w: %q", typeName, ErrUnknownAccessor, decl.Accessor)
		}
		d.index[decl.Name] = len(d.props)
		d.props = append(d.props, property[T]{decl: decl, read: read})
	}
	return d, nil
}

func (d *Descriptor[T]) TypeName() string {
	return d.typeName
}

// Names lists wire names in declaration order.
func (d *Descriptor[T]) Names() []string {
	names := make([]string, len(d.props))
	for i, p := range d.props {
		names[i] = p.decl.Name
	}
	return names
}

func (d *Descriptor[T]) Lookup(name string) (Declaration, bool) {
	i, ok := d.index[name]
	if !ok {
		return Declaration{}, false
	}
	return d.props[i].decl, true
}

// Read returns the current value of one property.
func (d *Descriptor[T]) Read(entity T, name string) (any, bool) {
	i, ok := d.index[name]
	if !ok {
		return nil, false
	}
	return d.props[i].read(entity), true
}

// Snapshot reads every declared property of entity now.
func (d *Descriptor[T]) Snapshot(entity T) Snapshot {
	out := make(Snapshot, len(d.props))
	for _, p := range d.props {
		out[p.decl.Name] = p.read(entity)
	}
	return out
}

// Source is a type-erased replicated entity.
type Source interface {
	TypeName() string
	Snapshot() Snapshot
}

type bound[T any] struct {
	desc   *Descriptor[T]
	entity T
}

func (b bound[T]) TypeName() string {
	return b.desc.typeName
}

func (b bound[T]) Snapshot() Snapshot {
	return b.desc.Snapshot(b.entity)
}

// Bind pairs an entity with its descriptor so entities of different types
// can be snapshotted together.
func Bind[T any](desc *Descriptor[T], entity T) Source {
	return bound[T]{desc: desc, entity: entity}
}

// Diff returns the entries of next that are new or changed since prev.
func Diff(prev, next Snapshot) Snapshot {
	out := make(Snapshot)
	for k, v := range next {
		old, ok := prev[k]
		if !ok || !reflect.DeepEqual(old, v) {
			out[k] = v
		}
	}
	return out
}
