package object

import (
	"sort"
)

type (
	// Mapping is a name -> value namespace such as module globals or builtins.
	// Get returns a borrowed reference.
	Mapping interface {
		Object

		Get(name string) (Object, bool)
		Set(name string, v Object)
	}

	List struct {
		Header
		Items []Object
	}

	// Dict is the exact mapping implementation compiled code trusts.
	Dict struct {
		Header
		m map[string]Object

		version uint64
	}

	// ChainMap looks names up in several mappings in order.
	// Compiled code does not trust it.
	ChainMap struct {
		Header
		Maps []Mapping
	}

	Range struct {
		Header
		Start, Stop, Step int64
	}

	Iter struct {
		Header

		list *List
		rng  *Range
		i    int64
	}
)

var (
	ListType     = &Type{Name: "list"}
	DictType     = &Type{Name: "dict"}
	ChainMapType = &Type{Name: "ChainMap"}
	RangeType    = &Type{Name: "range"}
	IterType     = &Type{Name: "iterator"}
)

func (*List) Type() *Type     { return ListType }
func (*Dict) Type() *Type     { return DictType }
func (*ChainMap) Type() *Type { return ChainMapType }
func (*Range) Type() *Type    { return RangeType }
func (*Iter) Type() *Type     { return IterType }

// NewList steals references to items.
func NewList(items ...Object) *List {
	return &List{Header: Header{refs: 1}, Items: items}
}

func (l *List) Append(x Object) {
	Incref(x)
	l.Items = append(l.Items, x)
}

func (l *List) release() {
	for _, x := range l.Items {
		XDecref(x)
	}

	l.Items = nil
}

func NewDict() *Dict {
	return &Dict{Header: Header{refs: 1}, m: map[string]Object{}}
}

func (d *Dict) Get(name string) (Object, bool) {
	v, ok := d.m[name]
	return v, ok
}

// Set stores a new reference to v.
func (d *Dict) Set(name string, v Object) {
	Incref(v)

	if old, ok := d.m[name]; ok {
		Decref(old)
	}

	d.m[name] = v
	d.version++
}

func (d *Dict) Delete(name string) {
	if old, ok := d.m[name]; ok {
		Decref(old)
		delete(d.m, name)
		d.version++
	}
}

func (d *Dict) release() {
	for k, v := range d.m {
		Decref(v)
		delete(d.m, k)
	}
}

func (d *Dict) Len() int { return len(d.m) }

// Version changes on every mutation.
func (d *Dict) Version() uint64 { return d.version }

func (d *Dict) Keys() []string {
	l := make([]string, 0, len(d.m))

	for k := range d.m {
		l = append(l, k)
	}

	sort.Strings(l)

	return l
}

func NewChainMap(maps ...Mapping) *ChainMap {
	return &ChainMap{Header: Header{refs: 1}, Maps: maps}
}

func (c *ChainMap) Get(name string) (Object, bool) {
	for _, m := range c.Maps {
		if v, ok := m.Get(name); ok {
			return v, true
		}
	}

	return nil, false
}

func (c *ChainMap) Set(name string, v Object) {
	if len(c.Maps) == 0 {
		return
	}

	c.Maps[0].Set(name, v)
}

func NewRange(start, stop, step int64) *Range {
	return &Range{Header: Header{refs: 1}, Start: start, Stop: stop, Step: step}
}

// GetIter returns a new iterator over o.
func GetIter(o Object) (Object, error) {
	switch o := o.(type) {
	case *List:
		Incref(o)
		return &Iter{Header: Header{refs: 1}, list: o}, nil
	case *Range:
		Incref(o)
		return &Iter{Header: Header{refs: 1}, rng: o, i: o.Start}, nil
	case *Iter:
		return newRef(o), nil
	}

	return nil, Errorf(TypeError, "'%s' object is not iterable", TypeName(o))
}

func (it *Iter) release() {
	switch {
	case it.list != nil:
		Decref(it.list)
	case it.rng != nil:
		Decref(it.rng)
	}

	it.list, it.rng = nil, nil
}

// Next returns the next element and false when exhausted.
func (it *Iter) Next() (Object, bool) {
	switch {
	case it.list != nil:
		if it.i >= int64(len(it.list.Items)) {
			return nil, false
		}

		x := it.list.Items[it.i]
		it.i++

		return newRef(x), true
	case it.rng != nil:
		r := it.rng

		if r.Step > 0 && it.i >= r.Stop || r.Step < 0 && it.i <= r.Stop {
			return nil, false
		}

		x := it.i
		it.i += r.Step

		return NewInt(x), true
	}

	return nil, false
}
