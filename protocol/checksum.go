package protocol

// crc8Poly is the CRC-8/SMBUS polynomial x^8 + x^2 + x + 1
const crc8Poly = 0x07

// CRC8 calculates the frame checksum over command id, length and payload
func CRC8(data []byte) uint8 {
	crc := uint8(0)
	for _, b := range data {
		crc ^= b
		for i := 0; i < 8; i++ {
			if crc&0x80 != 0 {
				crc = crc<<1 ^ crc8Poly
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// VerifyCRC8 checks data whose last byte is its checksum
func VerifyCRC8(dataWithCRC []byte) error {
	if len(dataWithCRC) < 1 {
		return BadChecksum
	}
	n := len(dataWithCRC) - 1
	if CRC8(dataWithCRC[:n]) != dataWithCRC[n] {
		return BadChecksum
	}
	return nil
}
