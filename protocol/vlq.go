package protocol

import "errors"

var (
	ErrInvalidVLQ     = errors.New("invalid VLQ encoding")
	ErrBufferTooSmall = errors.New("buffer too small for VLQ")
)

// EncodeVLQInt appends v using the variable length encoding of the link.
// Values in [-32, 96) take one byte; each further byte adds 7 bits.
func EncodeVLQInt(output OutputBuffer, v int32) {
	var buf [5]byte
	n := 0
	if !(-(1<<26) <= v && v < (3<<26)) {
		buf[n] = byte((v>>28)&0x7F) | 0x80
		n++
	}
	if !(-(1<<19) <= v && v < (3<<19)) {
		buf[n] = byte((v>>21)&0x7F) | 0x80
		n++
	}
	if !(-(1<<12) <= v && v < (3<<12)) {
		buf[n] = byte((v>>14)&0x7F) | 0x80
		n++
	}
	if !(-(1<<5) <= v && v < (3<<5)) {
		buf[n] = byte((v>>7)&0x7F) | 0x80
		n++
	}
	buf[n] = byte(v & 0x7F)
	output.Output(buf[:n+1])
}

// EncodeVLQUint appends an unsigned value. Values above MaxInt32 wrap
// through the signed encoding and decode back unchanged.
func EncodeVLQUint(output OutputBuffer, v uint32) {
	EncodeVLQInt(output, int32(v))
}

// DecodeVLQInt reads one value and advances data past it
func DecodeVLQInt(data *[]byte) (int32, error) {
	if len(*data) == 0 {
		return 0, ErrBufferTooSmall
	}

	c := uint32((*data)[0])
	*data = (*data)[1:]

	v := c & 0x7F
	if c&0x60 == 0x60 {
		v |= ^uint32(0x1F) // negative, sign extend
	}

	for n := 1; c&0x80 != 0; n++ {
		if n == 5 {
			return 0, ErrInvalidVLQ
		}
		if len(*data) == 0 {
			return 0, ErrBufferTooSmall
		}
		c = uint32((*data)[0])
		*data = (*data)[1:]
		v = (v << 7) | (c & 0x7F)
	}

	return int32(v), nil
}

// DecodeVLQUint reads one unsigned value and advances data past it
func DecodeVLQUint(data *[]byte) (uint32, error) {
	val, err := DecodeVLQInt(data)
	return uint32(val), err
}

// DecodeArgs reads len(dst) unsigned values in order
func DecodeArgs(data *[]byte, dst ...*uint32) error {
	for _, d := range dst {
		v, err := DecodeVLQUint(data)
		if err != nil {
			return err
		}
		*d = v
	}
	return nil
}

// EncodeCommand builds a command payload: the id followed by its arguments
func EncodeCommand(cmdID uint16, args ...uint32) ([]byte, error) {
	out := NewScratchOutput()
	EncodeVLQUint(out, uint32(cmdID))
	for _, a := range args {
		EncodeVLQUint(out, a)
	}
	if out.Overflowed() {
		return nil, ErrFrameTooLong
	}
	return append([]byte(nil), out.Result()...), nil
}
