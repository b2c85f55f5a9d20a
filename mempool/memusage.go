// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2024 The bsv developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"reflect"
)

// entryMemUsage measures the dynamic memory footprint of an entry,
// including the transaction body it references. The measurement is taken at
// admission time, before the entry is linked to any group, so the walk
// never escapes into shared structures.
func entryMemUsage(e *Entry) int64 {
	return int64(dynamicMemUsage(reflect.ValueOf(e).Elem()))
}

// dynamicMemUsage walks a value with reflection and totals the bytes it
// occupies, chasing pointers and peeking inside slices, maps and structs.
// It does not track already-visited pointers, so it must only be applied to
// tree-shaped values.
func dynamicMemUsage(v reflect.Value) uintptr {
	t := v.Type()
	bytes := t.Size()

	switch t.Kind() {
	case reflect.Pointer, reflect.Interface:
		if !v.IsNil() {
			bytes += dynamicMemUsage(v.Elem())
		}

	case reflect.Array, reflect.Slice:
		for i := 0; i < v.Len(); i++ {
			vi := v.Index(i)
			k := vi.Type().Kind()

			elemBytes := uintptr(0)
			if t.Kind() == reflect.Array {
				// Array elements are already counted by the
				// type size; only chase pointers.
				if (k == reflect.Pointer ||
					k == reflect.Interface) && !vi.IsNil() {

					elemBytes += dynamicMemUsage(vi.Elem())
				}
			} else {
				elemBytes += dynamicMemUsage(vi)
			}

			// Byte slices are homogeneous; one element is enough.
			if k == reflect.Uint8 {
				bytes += elemBytes * uintptr(v.Len())
				break
			}
			bytes += elemBytes
		}

	case reflect.Map:
		iter := v.MapRange()
		for iter.Next() {
			bytes += dynamicMemUsage(iter.Key())
			bytes += dynamicMemUsage(iter.Value())
		}

	case reflect.Struct:
		for _, f := range reflect.VisibleFields(t) {
			vf := v.FieldByIndex(f.Index)
			k := vf.Type().Kind()

			if (k == reflect.Pointer || k == reflect.Interface) &&
				!vf.IsNil() {

				bytes += dynamicMemUsage(vf.Elem())
			} else if k == reflect.Array || k == reflect.Slice {
				// The field's inline size was already counted
				// as part of the struct.
				bytes -= vf.Type().Size()
				bytes += dynamicMemUsage(vf)
			}
		}
	}

	return bytes
}
