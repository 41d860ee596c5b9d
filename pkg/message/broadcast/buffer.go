package broadcast

import (
	"encoding/binary"
	"math"

	"github.com/sessamekesh/scenelink/pkg/errors"
)

func appendBool(out []byte, v bool) []byte {
	if v {
		return append(out, 1)
	}
	return append(out, 0)
}

func appendBytes(out []byte, messageName, fieldName string, b []byte) ([]byte, error) {
	if len(b) > math.MaxUint16 {
		return nil, &errors.Overflow{
			MessageName: messageName,
			FieldName:   fieldName,
			Size:        len(b),
			MaximumSize: math.MaxUint16,
		}
	}
	out = binary.LittleEndian.AppendUint16(out, uint16(len(b)))
	return append(out, b...), nil
}

func appendString(out []byte, messageName, fieldName string, s string) ([]byte, error) {
	return appendBytes(out, messageName, fieldName, []byte(s))
}

func appendCount(out []byte, messageName, fieldName string, n int) ([]byte, error) {
	if n > math.MaxUint16 {
		return nil, &errors.Overflow{
			MessageName: messageName,
			FieldName:   fieldName,
			Size:        n,
			MaximumSize: math.MaxUint16,
		}
	}
	return binary.LittleEndian.AppendUint16(out, uint16(n)), nil
}

// reader walks a payload front to back. The first failed read sticks, so callers can
// chain reads and check err once.
type reader struct {
	messageName string
	msg         []byte
	readPtr     int
	err         error
}

func newReader(messageName string, msg []byte) *reader {
	return &reader{messageName: messageName, msg: msg}
}

// finish returns the first read error, or an error if the payload was not fully consumed.
func (r *reader) finish() error {
	if r.err != nil {
		return r.err
	}
	if r.readPtr != len(r.msg) {
		return &errors.TrailingBytes{
			MessageName: r.messageName,
			MsgSize:     len(r.msg),
			ReadSize:    r.readPtr,
		}
	}
	return nil
}

func (r *reader) need(fieldName string, n int) bool {
	if r.err != nil {
		return false
	}
	if len(r.msg) < r.readPtr+n {
		r.err = &errors.Underflow{
			MessageName: r.messageName + "::" + fieldName,
			MsgSize:     len(r.msg) - r.readPtr,
			MinimumSize: n,
		}
		return false
	}
	return true
}

func (r *reader) uint8(fieldName string) uint8 {
	if !r.need(fieldName, 1) {
		return 0
	}
	v := r.msg[r.readPtr]
	r.readPtr++
	return v
}

func (r *reader) bool(fieldName string) bool {
	return r.uint8(fieldName) != 0
}

func (r *reader) uint16(fieldName string) uint16 {
	if !r.need(fieldName, 2) {
		return 0
	}
	v := binary.LittleEndian.Uint16(r.msg[r.readPtr : r.readPtr+2])
	r.readPtr += 2
	return v
}

func (r *reader) int32(fieldName string) int32 {
	if !r.need(fieldName, 4) {
		return 0
	}
	v := binary.LittleEndian.Uint32(r.msg[r.readPtr : r.readPtr+4])
	r.readPtr += 4
	return int32(v)
}

func (r *reader) bytes(fieldName string) []byte {
	n := int(r.uint16(fieldName + "Length"))
	if n == 0 || !r.need(fieldName, n) {
		return nil
	}
	v := make([]byte, n)
	copy(v, r.msg[r.readPtr:r.readPtr+n])
	r.readPtr += n
	return v
}

func (r *reader) string(fieldName string) string {
	return string(r.bytes(fieldName))
}

func (r *reader) count(fieldName string) int {
	return int(r.uint16(fieldName + "Count"))
}

func (r *reader) enum(enumName string, limit uint8) uint8 {
	v := r.uint8(enumName)
	if r.err == nil && v >= limit {
		r.err = &errors.InvalidEnumValue{
			EnumName: enumName,
			IntValue: uint16(v),
		}
	}
	return v
}
