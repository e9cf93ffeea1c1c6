// Package checksum implements the two error-check algorithms used by the
// Modbus wire formats: LRC for Modbus ASCII and CRC-16 (poly 0xA001,
// seed 0xFFFF) for Modbus RTU.
package checksum

import (
	"errors"
	"sync"
)

// ErrShortInput is returned when the input is too short to carry a
// meaningful checksum (a frame is at least unit id + function code).
var ErrShortInput = errors.New("checksum: input shorter than 2 bytes")

// LRC returns the Longitudinal Redundancy Check of data: the two's
// complement of the byte sum, truncated to 8 bits.
func LRC(data []byte) (byte, error) {
	if len(data) < 2 {
		return 0, ErrShortInput
	}
	var sum byte
	for _, b := range data {
		sum += b
	}
	return (sum ^ 0xFF) + 1, nil
}

const crcPoly = 0xA001

var (
	crcOnce  sync.Once
	crcTable [256]uint16
)

// buildCRCTable fills the lookup table for the reflected 0xA001 polynomial.
// Runs exactly once; readers only ever see the finished table.
func buildCRCTable() {
	for i := 0; i < 256; i++ {
		crc := uint16(i)
		for bit := 0; bit < 8; bit++ {
			if crc&1 != 0 {
				crc = (crc >> 1) ^ crcPoly
			} else {
				crc >>= 1
			}
		}
		crcTable[i] = crc
	}
}

// CRC16 returns the CRC-16/Modbus of data, starting from the standard
// seed 0xFFFF. On the wire the low byte is transmitted first.
func CRC16(data []byte) (uint16, error) {
	return CRC16Seed(data, 0xFFFF)
}

// CRC16Seed is CRC16 with an explicit seed, for continuing a running
// checksum across buffer fragments.
func CRC16Seed(data []byte, seed uint16) (uint16, error) {
	if len(data) < 2 {
		return 0, ErrShortInput
	}
	crcOnce.Do(buildCRCTable)
	crc := seed
	for _, b := range data {
		crc = (crc >> 8) ^ crcTable[(crc^uint16(b))&0xFF]
	}
	return crc, nil
}
