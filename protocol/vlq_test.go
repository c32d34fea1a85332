package protocol

import (
	"bytes"
	"testing"
)

func TestVLQEncodeDecodeInt(t *testing.T) {
	testCases := []int32{
		0,
		1,
		-1,
		-32,
		95,
		96,
		-33,
		4095,
		4096,
		-1000,
		1000000,
		-1000000,
		1<<31 - 1,
		-1 << 31,
	}

	for _, expected := range testCases {
		output := NewScratchOutput()
		EncodeVLQInt(output, expected)
		encoded := output.Result()

		data := encoded
		decoded, err := DecodeVLQInt(&data)
		if err != nil {
			t.Errorf("Failed to decode VLQ for value %d: %v", expected, err)
			continue
		}

		if decoded != expected {
			t.Errorf("VLQ mismatch: expected %d, got %d (encoded as %v)", expected, decoded, encoded)
		}

		if len(data) != 0 {
			t.Errorf("VLQ decode didn't consume all bytes for value %d: %d bytes remaining", expected, len(data))
		}
	}
}

func TestVLQKnownEncodings(t *testing.T) {
	testCases := []struct {
		value    uint32
		expected []byte
	}{
		{0, []byte{0x00}},
		{95, []byte{0x5F}},
		{96, []byte{0x80, 0x60}},
		{1000, []byte{0x87, 0x68}},
		{4096, []byte{0xA0, 0x00}},
		{0xFFFFFFFF, []byte{0x7F}},
	}

	for _, tc := range testCases {
		output := NewScratchOutput()
		EncodeVLQUint(output, tc.value)
		if !bytes.Equal(output.Result(), tc.expected) {
			t.Errorf("EncodeVLQUint(%d) = %v, expected %v", tc.value, output.Result(), tc.expected)
		}
	}
}

func TestVLQBufferTooSmall(t *testing.T) {
	// Continuation byte but no following byte
	data := []byte{0x80}
	_, err := DecodeVLQInt(&data)
	if err != ErrBufferTooSmall {
		t.Errorf("Expected ErrBufferTooSmall, got %v", err)
	}

	data = nil
	if _, err := DecodeVLQUint(&data); err != ErrBufferTooSmall {
		t.Errorf("Expected ErrBufferTooSmall on empty input, got %v", err)
	}
}

func TestVLQTooLong(t *testing.T) {
	data := []byte{0x81, 0x81, 0x81, 0x81, 0x81, 0x01}
	if _, err := DecodeVLQInt(&data); err != ErrInvalidVLQ {
		t.Errorf("Expected ErrInvalidVLQ, got %v", err)
	}
}

func TestDecodeArgs(t *testing.T) {
	payload, err := EncodeCommand(7, 3, 4096, 25000)
	if err != nil {
		t.Fatalf("EncodeCommand failed: %v", err)
	}

	cmdID, err := DecodeVLQUint(&payload)
	if err != nil || cmdID != 7 {
		t.Fatalf("Expected command 7, got %d (%v)", cmdID, err)
	}

	var oid, value, freq uint32
	if err := DecodeArgs(&payload, &oid, &value, &freq); err != nil {
		t.Fatalf("DecodeArgs failed: %v", err)
	}
	if oid != 3 || value != 4096 || freq != 25000 {
		t.Errorf("Unexpected args: oid=%d value=%d freq=%d", oid, value, freq)
	}
	if len(payload) != 0 {
		t.Errorf("Expected payload to be consumed, %d bytes left", len(payload))
	}

	var extra uint32
	if err := DecodeArgs(&payload, &extra); err != ErrBufferTooSmall {
		t.Errorf("Expected ErrBufferTooSmall reading past the end, got %v", err)
	}
}

func TestEncodeCommandTooLong(t *testing.T) {
	args := make([]uint32, MessagePayloadMax)
	for i := range args {
		args[i] = 1 << 30 // five bytes each
	}
	if _, err := EncodeCommand(1, args...); err != ErrFrameTooLong {
		t.Errorf("Expected ErrFrameTooLong, got %v", err)
	}
}
