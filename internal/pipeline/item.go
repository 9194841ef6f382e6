package pipeline

// Identifier is implemented by items that carry a numeric identity.
type Identifier interface {
	ItemID() int64
}

// Namer is implemented by items that carry a human-readable name.
type Namer interface {
	ItemName() string
}

// Releaser is implemented by items holding resources that should be freed
// once the item is superseded, dropped, or committed. Implementations should
// be pointer types.
type Releaser interface {
	Release()
}

func identify[T any](item T) (id int64, name string) {
	if v, ok := any(item).(Identifier); ok {
		id = v.ItemID()
	}
	if v, ok := any(item).(Namer); ok {
		name = v.ItemName()
	}
	return id, name
}

func release[T any](item T) {
	if r, ok := any(item).(Releaser); ok {
		r.Release()
	}
}

// supersede releases in unless the transformation handed the same item back.
func supersede[T any](in, out T) {
	r, ok := any(in).(Releaser)
	if !ok {
		return
	}
	if same(any(in), any(out)) {
		return
	}
	r.Release()
}

// same compares two dynamic values, treating incomparable ones as equal so
// that nothing is released by mistake.
func same(a, b any) (eq bool) {
	defer func() {
		if recover() != nil {
			eq = true
		}
	}()
	return a == b
}
