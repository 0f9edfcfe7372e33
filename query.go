package busbus

import (
	"reflect"
	"strings"
)

// Queryable wraps a single-use pull iterator over T plus a stack of
// predicates, mirroring original_source/busbus/queryable.py's
// Queryable: calling Where doesn't copy the underlying sequence, it
// returns a new Queryable sharing the same puller and appending one
// more predicate -- so consuming one derived Queryable consumes the
// shared source, exactly like the Python generator it was translated
// from. Callers that need independent iteration should build two
// Queryables from two independent producers.
type Queryable[T any] struct {
	next  func() (T, bool)
	preds []func(T) bool
}

// NewQueryable wraps a pull iterator (a func returning the next value
// and whether one was available) into a Queryable with no predicates.
func NewQueryable[T any](next func() (T, bool)) *Queryable[T] {
	return &Queryable[T]{next: next}
}

// FromSlice is the common case: a Queryable over a fully materialized
// slice, e.g. the result of a Feed Store read.
func FromSlice[T any](items []T) *Queryable[T] {
	i := 0
	return NewQueryable(func() (T, bool) {
		if i >= len(items) {
			var zero T
			return zero, false
		}
		v := items[i]
		i++
		return v, true
	})
}

// Next pulls the next item satisfying every predicate, advancing the
// shared iterator past any items it rejects along the way.
func (q *Queryable[T]) Next() (T, bool) {
	for {
		v, ok := q.next()
		if !ok {
			var zero T
			return zero, false
		}
		if q.matches(v) {
			return v, true
		}
	}
}

func (q *Queryable[T]) matches(v T) bool {
	for _, p := range q.preds {
		if !p(v) {
			return false
		}
	}
	return true
}

// All drains the Queryable into a slice. Since the underlying puller
// is single-use, calling All twice on the same Queryable returns
// items only the first time.
func (q *Queryable[T]) All() []T {
	var out []T
	for {
		v, ok := q.Next()
		if !ok {
			return out
		}
		out = append(out, v)
	}
}

// Where returns a new Queryable sharing this one's underlying puller,
// with pred appended to the predicate chain -- matching
// Queryable.where's "returns type(self)(self.it, self.query_funcs + [f])"
// behavior in the Python original.
func (q *Queryable[T]) Where(pred func(T) bool) *Queryable[T] {
	preds := make([]func(T) bool, len(q.preds), len(q.preds)+1)
	copy(preds, q.preds)
	preds = append(preds, pred)
	return &Queryable[T]{next: q.next, preds: preds}
}

// WhereAttr is the dotted-attribute query sugar from queryable.py's
// where(**kwargs): it inspects v's exported fields (falling through
// dotted path segments, e.g. "Route.AgencyID") and keeps only values
// equal to want. A missing attribute at any point in the path is a
// non-match rather than an error, matching the Python original's
// hasattr guard.
func (q *Queryable[T]) WhereAttr(key string, want any) *Queryable[T] {
	return q.Where(func(v T) bool {
		got, ok := attrByPath(reflect.ValueOf(v), strings.Split(key, "."))
		if !ok {
			return false
		}
		return reflect.DeepEqual(got, want)
	})
}

// attrByPath walks path through v, following every level of pointer
// indirection at each step (so it can descend into a *LazyRef[T] by
// calling Get, or into a plain struct field). It never panics: any
// unresolvable step returns ok=false.
func attrByPath(v reflect.Value, path []string) (any, bool) {
	for len(path) > 0 {
		v = indirectResolve(v)
		if !v.IsValid() {
			return nil, false
		}
		if v.Kind() != reflect.Struct {
			return nil, false
		}
		field := fieldByCSVOrName(v, path[0])
		if !field.IsValid() {
			return nil, false
		}
		v = field
		path = path[1:]
	}
	v = indirectResolve(v)
	if !v.IsValid() {
		return nil, false
	}
	return v.Interface(), true
}

// indirectResolve dereferences pointers and, when it lands on
// something with a Get() (T, bool) method (a *LazyRef), calls it.
func indirectResolve(v reflect.Value) reflect.Value {
	for v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return reflect.Value{}
		}
		if m := v.MethodByName("Get"); m.IsValid() && m.Type().NumIn() == 0 && m.Type().NumOut() == 2 {
			results := m.Call(nil)
			if !results[1].Bool() {
				return reflect.Value{}
			}
			v = results[0]
			continue
		}
		v = v.Elem()
	}
	return v
}

// fieldByCSVOrName finds a struct field by exact name match, falling
// back to a case-insensitive match -- entity structs embed model
// types whose field names (ID, ShortName, ...) rarely match GTFS
// snake_case query keys ("stop_id") verbatim, so callers are expected
// to spell the Go field name ("ID", not "stop_id").
func fieldByCSVOrName(v reflect.Value, name string) reflect.Value {
	if f := v.FieldByName(name); f.IsValid() {
		return f
	}
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		if strings.EqualFold(t.Field(i).Name, name) {
			return v.Field(i)
		}
	}
	return reflect.Value{}
}

// ChainedQueryable concatenates several Queryables into one logical
// sequence, draining each in turn -- mirroring Queryable.chain's
// itertools.chain(*its) in the Python original.
type ChainedQueryable[T any] struct {
	children []*Queryable[T]
	idx      int
}

// Chain builds a ChainedQueryable over qs, consumed in order.
func Chain[T any](qs ...*Queryable[T]) *ChainedQueryable[T] {
	return &ChainedQueryable[T]{children: qs}
}

func (c *ChainedQueryable[T]) Next() (T, bool) {
	for c.idx < len(c.children) {
		if v, ok := c.children[c.idx].Next(); ok {
			return v, true
		}
		c.idx++
	}
	var zero T
	return zero, false
}

func (c *ChainedQueryable[T]) All() []T {
	var out []T
	for {
		v, ok := c.Next()
		if !ok {
			return out
		}
		out = append(out, v)
	}
}

// Where pushes pred into every child Queryable independently and
// returns a new ChainedQueryable over the results, so that a
// ChainedQueryable filters the same way Queryable does without
// flattening its children into one shared iterator -- matching
// ChainedQueryable.where in queryable.py, which rebuilds
// ChainedQueryable(*(i.where(f) for i in self.its)).
func (c *ChainedQueryable[T]) Where(pred func(T) bool) *ChainedQueryable[T] {
	children := make([]*Queryable[T], len(c.children))
	for i, child := range c.children {
		children[i] = child.Where(pred)
	}
	return &ChainedQueryable[T]{children: children[c.idx:]}
}

func (c *ChainedQueryable[T]) WhereAttr(key string, want any) *ChainedQueryable[T] {
	return c.Where(func(v T) bool {
		got, ok := attrByPath(reflect.ValueOf(v), strings.Split(key, "."))
		if !ok {
			return false
		}
		return reflect.DeepEqual(got, want)
	})
}
