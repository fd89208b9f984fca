package notify

import "reflect"

// defaultEquals compares values of a comparable dynamic type with == and
// everything else with reflect.DeepEqual. Values of different dynamic types
// are never equal.
func defaultEquals[T any](a, b T) (eq bool) {
	av, bv := any(a), any(b)
	if av == nil || bv == nil {
		return av == nil && bv == nil
	}
	ta := reflect.TypeOf(av)
	if ta != reflect.TypeOf(bv) {
		return false
	}
	if !ta.Comparable() {
		return reflect.DeepEqual(av, bv)
	}

	// A comparable struct or array may still hold an incomparable value
	// behind an interface field.
	defer func() {
		if recover() != nil {
			eq = reflect.DeepEqual(av, bv)
		}
	}()
	return av == bv
}

// safeEquals runs eq and converts a panic into an error.
func safeEquals[T any](eq func(a, b T) bool, a, b T) (equal bool, panicked any) {
	defer func() {
		if r := recover(); r != nil {
			equal, panicked = false, r
		}
	}()
	return eq(a, b), nil
}

// isNil reports whether v is nil or a typed nil pointer, map, slice, func,
// channel or interface.
func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Interface:
		return rv.IsNil()
	}
	return false
}
