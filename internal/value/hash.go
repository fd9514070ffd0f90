package value

import (
	"encoding/binary"
	"math"

	"github.com/zeebo/xxh3"
)

// Hash returns a hash consistent with Equal: values that are Equal hash the
// same. Numbers (and numeric strings) hash by their float64 value.
func (v Value) Hash() uint64 {
	return xxh3.Hash(v.appendHash(nil))
}

// Hash combines the hashes of all values in the tuple.
func (t Tuple) Hash() uint64 {
	buf := make([]byte, 0, 16*len(t))
	for _, v := range t {
		buf = v.appendHash(buf)
	}
	return xxh3.Hash(buf)
}

func (v Value) appendHash(buf []byte) []byte {
	switch v.kind {
	case KindEmpty:
		return append(buf, 'e')
	case KindInvalid:
		return append(buf, 'x')
	}
	if f, ok := v.numeric(); ok {
		if f == 0 {
			f = 0 // fold -0 into +0
		}
		buf = append(buf, 'n')
		return binary.LittleEndian.AppendUint64(buf, math.Float64bits(f))
	}
	s, _ := v.StringValue()
	buf = append(buf, 's')
	buf = binary.LittleEndian.AppendUint64(buf, uint64(len(s)))
	return append(buf, s...)
}

// TupleEqual reports whether two tuples are element-wise Equal.
func TupleEqual(a, b Tuple) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}
