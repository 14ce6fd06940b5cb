// Package leb128 implements the variable length integer encoding used by DWARF call frame information.
package leb128

import (
	"errors"
	"fmt"
)

const (
	maxVarintLen32 = 5
	maxVarintLen64 = 10
)

var (
	errOverflow32 = errors.New("overflows a 32-bit integer")
	errOverflow64 = errors.New("overflows a 64-bit integer")
)

// EncodeInt32 encodes the signed value into a buffer in LEB128 format
func EncodeInt32(value int32) []byte {
	return EncodeInt64(int64(value))
}

// EncodeInt64 encodes the signed value into a buffer in LEB128 format
func EncodeInt64(value int64) []byte {
	return AppendInt64(nil, value)
}

// AppendInt64 appends the signed LEB128 form of value to buf.
func AppendInt64(buf []byte, value int64) []byte {
	for {
		// Take 7 remaining low-order bits from the value into b.
		b := uint8(value & 0x7f)
		// Extract the sign bit.
		s := uint8(value & 0x40)
		value >>= 7

		// The encoding unit is done when both of:
		//	* value is zero (positive) and the sign bit is clear
		//	* value is -1 (negative) and the sign bit is set
		if (value != -1 || s == 0) && (value != 0 || s != 0) {
			buf = append(buf, b|0x80)
		} else {
			return append(buf, b)
		}
	}
}

// EncodeUint32 encodes the value into a buffer in LEB128 format
func EncodeUint32(value uint32) []byte {
	return EncodeUint64(uint64(value))
}

// EncodeUint64 encodes the value into a buffer in LEB128 format
func EncodeUint64(value uint64) []byte {
	return AppendUint64(nil, value)
}

// AppendUint64 appends the unsigned LEB128 form of value to buf.
func AppendUint64(buf []byte, value uint64) []byte {
	for {
		b := uint8(value & 0x7f)
		value >>= 7
		if value == 0 {
			return append(buf, b)
		}
		buf = append(buf, b|0x80)
	}
}

// LoadUint32 decodes an unsigned value from the beginning of buf, and returns it with the number of bytes read.
func LoadUint32(buf []byte) (ret uint32, bytesRead uint64, err error) {
	v, n, err := loadUnsigned(buf, maxVarintLen32, 32)
	if err != nil {
		return 0, 0, err
	}
	return uint32(v), n, nil
}

// LoadUint64 decodes an unsigned value from the beginning of buf, and returns it with the number of bytes read.
func LoadUint64(buf []byte) (ret uint64, bytesRead uint64, err error) {
	return loadUnsigned(buf, maxVarintLen64, 64)
}

func loadUnsigned(buf []byte, maxLen int, bits uint) (ret uint64, bytesRead uint64, err error) {
	var s uint
	for i := 0; i < maxLen; i++ {
		if i >= len(buf) {
			return 0, 0, fmt.Errorf("unexpected end of buffer after %d bytes", i)
		}
		b := buf[i]
		if b < 0x80 {
			if i == maxLen-1 && uint64(b)>>(bits-s) != 0 {
				if bits == 32 {
					return 0, 0, errOverflow32
				}
				return 0, 0, errOverflow64
			}
			return ret | uint64(b)<<s, uint64(i) + 1, nil
		}
		ret |= uint64(b&0x7f) << s
		s += 7
	}
	if bits == 32 {
		return 0, 0, errOverflow32
	}
	return 0, 0, errOverflow64
}

// LoadInt32 decodes a signed value from the beginning of buf, and returns it with the number of bytes read.
func LoadInt32(buf []byte) (ret int32, bytesRead uint64, err error) {
	v, n, err := loadSigned(buf, maxVarintLen32, 32)
	if err != nil {
		return 0, 0, err
	}
	if v != int64(int32(v)) {
		return 0, 0, errOverflow32
	}
	return int32(v), n, nil
}

// LoadInt64 decodes a signed value from the beginning of buf, and returns it with the number of bytes read.
func LoadInt64(buf []byte) (ret int64, bytesRead uint64, err error) {
	return loadSigned(buf, maxVarintLen64, 64)
}

func loadSigned(buf []byte, maxLen int, bits uint) (ret int64, bytesRead uint64, err error) {
	var shift uint
	var b byte
	for bytesRead = 0; ; bytesRead++ {
		if int(bytesRead) >= maxLen {
			if bits == 32 {
				return 0, 0, errOverflow32
			}
			return 0, 0, errOverflow64
		}
		if int(bytesRead) >= len(buf) {
			return 0, 0, fmt.Errorf("unexpected end of buffer after %d bytes", bytesRead)
		}
		b = buf[bytesRead]
		ret |= int64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			break
		}
	}
	bytesRead++
	if shift < 64 && b&0x40 != 0 {
		ret |= -1 << shift
	}
	return ret, bytesRead, nil
}
