package cache

import "reflect"

// deepCopy returns v with every nested map and slice duplicated. Pointers,
// channels and structs are copied by value; JSON-like payloads never hold
// them.
func deepCopy[V any](v V) V {
	rv := reflect.ValueOf(&v).Elem()
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Interface:
	default:
		return v
	}
	var out V
	reflect.ValueOf(&out).Elem().Set(copyValue(rv))
	return out
}

func copyValue(rv reflect.Value) reflect.Value {
	switch rv.Kind() {
	case reflect.Map:
		if rv.IsNil() {
			return rv
		}
		n := reflect.MakeMapWithSize(rv.Type(), rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			n.SetMapIndex(iter.Key(), copyValue(iter.Value()))
		}
		return n
	case reflect.Slice:
		if rv.IsNil() {
			return rv
		}
		n := reflect.MakeSlice(rv.Type(), rv.Len(), rv.Len())
		for i := 0; i < rv.Len(); i++ {
			n.Index(i).Set(copyValue(rv.Index(i)))
		}
		return n
	case reflect.Interface:
		if rv.IsNil() {
			return rv
		}
		n := reflect.New(rv.Type()).Elem()
		n.Set(copyValue(rv.Elem()))
		return n
	default:
		return rv
	}
}
