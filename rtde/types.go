package rtde

import (
	"encoding/binary"
	"fmt"
	"math"
)

// VarType identifies the wire type of a recipe variable. Values travel
// big-endian (network order) inside data packages.
type VarType int

const (
	TypeInvalid VarType = iota
	TypeBool
	TypeUint8
	TypeUint32
	TypeUint64
	TypeInt32
	TypeDouble
	TypeVector3D
	TypeVector6D
	TypeVector6Int32
	TypeVector6Uint32
)

var varTypeNames = map[VarType]string{
	TypeBool:          "BOOL",
	TypeUint8:         "UINT8",
	TypeUint32:        "UINT32",
	TypeUint64:        "UINT64",
	TypeInt32:         "INT32",
	TypeDouble:        "DOUBLE",
	TypeVector3D:      "VECTOR3D",
	TypeVector6D:      "VECTOR6D",
	TypeVector6Int32:  "VECTOR6INT32",
	TypeVector6Uint32: "VECTOR6UINT32",
}

var varTypesByName = map[string]VarType{}

func init() {
	for t, name := range varTypeNames {
		varTypesByName[name] = t
	}
}

// ParseVarType maps a controller type name to a VarType
func ParseVarType(name string) (VarType, bool) {
	t, ok := varTypesByName[name]
	return t, ok
}

func (t VarType) String() string {
	if name, ok := varTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("VarType(%d)", int(t))
}

// Size returns the wire width of the type in bytes
func (t VarType) Size() int {
	switch t {
	case TypeBool, TypeUint8:
		return 1
	case TypeUint32, TypeInt32:
		return 4
	case TypeUint64, TypeDouble:
		return 8
	case TypeVector3D, TypeVector6Int32, TypeVector6Uint32:
		return 24
	case TypeVector6D:
		return 48
	default:
		return 0
	}
}

// Value holds one decoded recipe variable. Only the field matching Type is
// meaningful; integer vectors are widened into Vector.
type Value struct {
	Type   VarType
	Bool   bool
	Uint   uint64
	Int    int64
	Double float64
	Vector [6]float64
}

// appendValue packs a value onto buf in wire order
func appendValue(buf []byte, v Value) ([]byte, error) {
	switch v.Type {
	case TypeBool:
		if v.Bool {
			return append(buf, 1), nil
		}
		return append(buf, 0), nil
	case TypeUint8:
		return append(buf, uint8(v.Uint)), nil
	case TypeUint32:
		return binary.BigEndian.AppendUint32(buf, uint32(v.Uint)), nil
	case TypeUint64:
		return binary.BigEndian.AppendUint64(buf, v.Uint), nil
	case TypeInt32:
		return binary.BigEndian.AppendUint32(buf, uint32(int32(v.Int))), nil
	case TypeDouble:
		return binary.BigEndian.AppendUint64(buf, math.Float64bits(v.Double)), nil
	case TypeVector3D:
		for i := 0; i < 3; i++ {
			buf = binary.BigEndian.AppendUint64(buf, math.Float64bits(v.Vector[i]))
		}
		return buf, nil
	case TypeVector6D:
		for i := 0; i < 6; i++ {
			buf = binary.BigEndian.AppendUint64(buf, math.Float64bits(v.Vector[i]))
		}
		return buf, nil
	case TypeVector6Int32:
		for i := 0; i < 6; i++ {
			buf = binary.BigEndian.AppendUint32(buf, uint32(int32(v.Vector[i])))
		}
		return buf, nil
	case TypeVector6Uint32:
		for i := 0; i < 6; i++ {
			buf = binary.BigEndian.AppendUint32(buf, uint32(v.Vector[i]))
		}
		return buf, nil
	default:
		return nil, fmt.Errorf("cannot encode type %v", v.Type)
	}
}

// decodeValue unpacks one value of type t from src, returning the remainder
func decodeValue(src []byte, t VarType) (Value, []byte, error) {
	size := t.Size()
	if size == 0 {
		return Value{}, nil, fmt.Errorf("cannot decode type %v", t)
	}
	if len(src) < size {
		return Value{}, nil, fmt.Errorf("need %d bytes for %v, have %d", size, t, len(src))
	}

	v := Value{Type: t}
	switch t {
	case TypeBool:
		v.Bool = src[0] != 0
	case TypeUint8:
		v.Uint = uint64(src[0])
	case TypeUint32:
		v.Uint = uint64(binary.BigEndian.Uint32(src))
	case TypeUint64:
		v.Uint = binary.BigEndian.Uint64(src)
	case TypeInt32:
		v.Int = int64(int32(binary.BigEndian.Uint32(src)))
	case TypeDouble:
		v.Double = math.Float64frombits(binary.BigEndian.Uint64(src))
	case TypeVector3D:
		for i := 0; i < 3; i++ {
			v.Vector[i] = math.Float64frombits(binary.BigEndian.Uint64(src[i*8:]))
		}
	case TypeVector6D:
		for i := 0; i < 6; i++ {
			v.Vector[i] = math.Float64frombits(binary.BigEndian.Uint64(src[i*8:]))
		}
	case TypeVector6Int32:
		for i := 0; i < 6; i++ {
			v.Vector[i] = float64(int32(binary.BigEndian.Uint32(src[i*4:])))
		}
	case TypeVector6Uint32:
		for i := 0; i < 6; i++ {
			v.Vector[i] = float64(binary.BigEndian.Uint32(src[i*4:]))
		}
	}

	return v, src[size:], nil
}
