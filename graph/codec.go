package graph

import (
	"encoding/binary"
	"fmt"
	"math"
	"reflect"
)

// encodeFixed serializes a fixed-kind field's value to exactly width bytes,
// little-endian, matching spec §6's "all integers are little-endian, packed
// with no padding".
func encodeFixed(v reflect.Value, width int) ([]byte, error) {
	buf := make([]byte, width)
	switch v.Kind() {
	case reflect.Bool:
		if v.Bool() {
			buf[0] = 1
		}
	case reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uint:
		putUint(buf, v.Uint())
	case reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64, reflect.Int:
		putUint(buf, uint64(v.Int()))
	case reflect.Float32:
		binary.LittleEndian.PutUint32(buf, math.Float32bits(float32(v.Float())))
	case reflect.Float64:
		binary.LittleEndian.PutUint64(buf, math.Float64bits(v.Float()))
	case reflect.Array:
		for i := 0; i < v.Len(); i++ {
			buf[i] = byte(v.Index(i).Uint())
		}
	default:
		return nil, fmt.Errorf("graph: cannot encode fixed field of kind %s", v.Kind())
	}
	return buf, nil
}

// decodeFixed reverses encodeFixed, writing into v.
func decodeFixed(buf []byte, v reflect.Value) error {
	switch v.Kind() {
	case reflect.Bool:
		v.SetBool(buf[0] != 0)
	case reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uint:
		v.SetUint(getUint(buf))
	case reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64, reflect.Int:
		v.SetInt(int64(getUint(buf)))
	case reflect.Float32:
		v.SetFloat(float64(math.Float32frombits(binary.LittleEndian.Uint32(buf))))
	case reflect.Float64:
		v.SetFloat(math.Float64frombits(binary.LittleEndian.Uint64(buf)))
	case reflect.Array:
		for i := 0; i < v.Len(); i++ {
			v.Index(i).SetUint(uint64(buf[i]))
		}
	default:
		return fmt.Errorf("graph: cannot decode fixed field of kind %s", v.Kind())
	}
	return nil
}

func putUint(buf []byte, v uint64) {
	for i := 0; i < len(buf) && i < 8; i++ {
		buf[i] = byte(v >> (8 * uint(i)))
	}
}

func getUint(buf []byte) uint64 {
	var v uint64
	for i := 0; i < len(buf) && i < 8; i++ {
		v |= uint64(buf[i]) << (8 * uint(i))
	}
	return v
}

func encodeVariable(v reflect.Value) []byte {
	if v.Kind() == reflect.String {
		return []byte(v.String())
	}
	return append([]byte(nil), v.Bytes()...)
}

func decodeVariable(buf []byte, v reflect.Value) {
	if v.Kind() == reflect.String {
		v.SetString(string(buf))
		return
	}
	v.SetBytes(append([]byte(nil), buf...))
}
