package protocol

import "errors"

var (
	ErrShortFrame   = errors.New("incomplete frame")
	ErrFrameLength  = errors.New("frame length out of range")
	ErrFrameSeq     = errors.New("bad frame sequence byte")
	ErrFrameSync    = errors.New("missing frame sync byte")
	ErrFrameCRC     = errors.New("frame CRC mismatch")
	ErrFrameTooLong = errors.New("payload does not fit in one frame")
)

// EncodeFrame wraps payload in a frame with the given sequence byte
func EncodeFrame(seq uint8, payload []byte) ([]byte, error) {
	if len(payload) > MessagePayloadMax {
		return nil, ErrFrameTooLong
	}
	frame := make([]byte, 0, len(payload)+MessageLengthMin)
	frame = append(frame, uint8(len(payload)+MessageLengthMin), seq)
	frame = append(frame, payload...)
	frame = appendCRC(frame)
	return append(frame, MessageValueSync), nil
}

// DecodeFrame parses the frame at the start of data. It returns the frame's
// sequence byte, its payload (aliasing data) and the number of bytes the
// frame occupies. ErrShortFrame means more input is needed; any other error
// means data does not start with a valid frame.
func DecodeFrame(data []byte) (seq uint8, payload []byte, n int, err error) {
	if len(data) < MessageLengthMin {
		return 0, nil, 0, ErrShortFrame
	}

	msgLen := int(data[MessagePositionLen])
	if msgLen < MessageLengthMin || msgLen > MessageLengthMax {
		return 0, nil, 0, ErrFrameLength
	}

	seq = data[MessagePositionSeq]
	if seq&^MessageSeqMask != MessageDest {
		return 0, nil, 0, ErrFrameSeq
	}

	if len(data) < msgLen {
		return 0, nil, 0, ErrShortFrame
	}

	if data[msgLen-MessageTrailerSync] != MessageValueSync {
		return 0, nil, 0, ErrFrameSync
	}

	frameCRC := uint16(data[msgLen-MessageTrailerCRC])<<8 |
		uint16(data[msgLen-MessageTrailerCRC+1])
	if frameCRC != CRC16(data[:msgLen-MessageTrailerSize]) {
		return 0, nil, 0, ErrFrameCRC
	}

	return seq, data[MessageHeaderSize : msgLen-MessageTrailerSize], msgLen, nil
}
