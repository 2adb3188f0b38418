// Package gobutil wraps encoding/gob with the checks this repo's durability
// guarantees depend on silently holding: every persisted or
// RPC-carried struct must have only exported fields (gob drops unexported
// ones without error), and decoding into a reused, already-populated struct
// can leave stale data gob never overwrites. Both mistakes compile cleanly
// and fail only much later, as a replay bug or a corrupt-looking persisted
// record, so this package turns them into an immediate stdout warning
// instead.
package gobutil

import (
	"encoding/gob"
	"fmt"
	"io"
	"reflect"
	"sync"
	"unicode"
	"unicode/utf8"
)

var (
	mu         sync.Mutex
	errorCount int
	checked    map[reflect.Type]bool
)

type Encoder struct {
	enc *gob.Encoder
}

func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{enc: gob.NewEncoder(w)}
}

func (e *Encoder) Encode(v interface{}) error {
	checkValue(v)
	return e.enc.Encode(v)
}

type Decoder struct {
	dec *gob.Decoder
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{dec: gob.NewDecoder(r)}
}

func (d *Decoder) Decode(v interface{}) error {
	checkValue(v)
	checkDefault(v)
	return d.dec.Decode(v)
}

// Register exposes gob.Register with the same field-capitalization check
// Encode/Decode apply, for types only ever carried as an interface{} payload
// (raft.LogEntry.Command) rather than encoded directly.
func Register(value interface{}) {
	checkValue(value)
	gob.Register(value)
}

func checkValue(value interface{}) {
	checkType(reflect.TypeOf(value))
}

func checkType(t reflect.Type) {
	if t == nil {
		return
	}
	k := t.Kind()

	mu.Lock()
	if checked == nil {
		checked = map[reflect.Type]bool{}
	}
	if checked[t] {
		mu.Unlock()
		return
	}
	checked[t] = true
	mu.Unlock()

	switch k {
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			r, _ := utf8.DecodeRuneInString(f.Name)
			if !unicode.IsUpper(r) {
				fmt.Printf("gobutil: lower-case field %v of %v won't survive RPC or persist/snapshot encoding\n", f.Name, t.Name())
				mu.Lock()
				errorCount++
				mu.Unlock()
			}
			checkType(f.Type)
		}
	case reflect.Slice, reflect.Array, reflect.Ptr:
		checkType(t.Elem())
	case reflect.Map:
		checkType(t.Elem())
		checkType(t.Key())
	}
}

// checkDefault warns when decoding into a struct that already carries
// non-zero values — gob only overwrites fields present in the wire data, so
// a reused reply struct can silently keep a stale value from a previous RPC.
func checkDefault(value interface{}) {
	if value == nil {
		return
	}
	checkDefault1(reflect.ValueOf(value), 1, "")
}

func checkDefault1(value reflect.Value, depth int, name string) {
	if depth > 3 {
		return
	}
	t := value.Type()

	switch t.Kind() {
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			fieldName := t.Field(i).Name
			if name != "" {
				fieldName = name + "." + fieldName
			}
			checkDefault1(value.Field(i), depth+1, fieldName)
		}
	case reflect.Ptr:
		if value.IsNil() {
			return
		}
		checkDefault1(value.Elem(), depth+1, name)
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Uintptr, reflect.Float32, reflect.Float64,
		reflect.String:
		if !reflect.DeepEqual(reflect.Zero(t).Interface(), value.Interface()) {
			mu.Lock()
			if errorCount < 1 {
				what := name
				if what == "" {
					what = t.Name()
				}
				fmt.Printf("gobutil: decoding into non-default variable/field %v may not fully overwrite it\n", what)
			}
			errorCount++
			mu.Unlock()
		}
	}
}
