package protocol

// CRC16 computes the frame checksum (CRC-16/MCRF4XX: reflected CCITT
// polynomial, initial value 0xFFFF, no final xor)
func CRC16(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		b ^= uint8(crc & 0xFF)
		b ^= b << 4
		b16 := uint16(b)
		crc = (b16<<8 | crc>>8) ^ (b16 >> 4) ^ (b16 << 3)
	}
	return crc
}

// appendCRC appends the big-endian checksum of data to data
func appendCRC(data []byte) []byte {
	crc := CRC16(data)
	return append(data, uint8(crc>>8), uint8(crc))
}
