package pktwire

import (
	"encoding/binary"
	"net/netip"
)

// CRC791 function as defined by RFC 791. The Checksum field for TCP+IP
// is the 16-bit ones' complement of the ones' complement sum of
// all 16-bit words in the header. In case of uneven number of octet the
// last word is LSB padded with zeros.
//
// The zero value of CRC791 is ready to use.
type CRC791 struct {
	sum uint32
	// odd holds a pending high byte when an odd length buffer was written.
	odd    byte
	hasOdd bool
}

func checksum16(sum uint32) uint16 {
	sum = (sum & 0xffff) + sum>>16
	// the max value of sum at this point is 0x1fffe, so an additional round is enough
	return ^uint16(sum + sum>>16)
}

func checksumWriteEven(sum uint32, buff []byte) uint32 {
	for i := 0; i+1 < len(buff); i += 2 {
		sum += uint32(binary.BigEndian.Uint16(buff[i:]))
		if sum >= 0x8000_0000 {
			sum = (sum & 0xffff) + sum>>16
		}
	}
	return sum
}

// Write adds the bytes in buff to the running checksum. Buffers of odd length
// are carried over so consecutive writes checksum as one contiguous buffer.
func (c *CRC791) Write(buff []byte) {
	if len(buff) == 0 {
		return
	}
	if c.hasOdd {
		c.sum += uint32(c.odd)<<8 | uint32(buff[0])
		c.hasOdd = false
		buff = buff[1:]
	}
	odd := len(buff) & 1
	c.sum = checksumWriteEven(c.sum, buff[:len(buff)-odd])
	if odd > 0 {
		c.odd = buff[len(buff)-1]
		c.hasOdd = true
	}
}

// AddUint32 adds a 32 bit value to the running checksum interpreted as BigEndian (network order).
func (c *CRC791) AddUint32(value uint32) {
	c.AddUint16(uint16(value >> 16))
	c.AddUint16(uint16(value))
}

// AddUint16 adds a 16 bit value to the running checksum interpreted as BigEndian (network order).
func (c *CRC791) AddUint16(value uint16) {
	c.sum += uint32(value)
}

// Sum16 calculates the checksum with the data written to c thus far.
func (c *CRC791) Sum16() uint16 {
	sum := c.sum
	if c.hasOdd {
		sum += uint32(c.odd) << 8
	}
	return checksum16(sum)
}

// PayloadSum16 returns the checksum resulting by adding the bytes in p to the running checksum.
// c is not modified.
func (c *CRC791) PayloadSum16(buff []byte) uint16 {
	cp := *c
	cp.Write(buff)
	return cp.Sum16()
}

// Reset zeros out the CRC791, resetting it to the initial state.
func (c *CRC791) Reset() { *c = CRC791{} }

// NeverZeroChecksum ensures that the given checksum is not zero, by returning 0xffff instead.
func NeverZeroChecksum(sum16 uint16) uint16 {
	// 0x0000 and 0xffff are the same number in ones' complement math
	if sum16 == 0 {
		return 0xffff
	}
	return sum16
}

// Checksum returns the Internet checksum of b.
func Checksum(b []byte) uint16 {
	var crc CRC791
	return crc.PayloadSum16(b)
}

// WritePseudoHeader adds the transport pseudo-header for the given addresses to the running checksum.
// IPv4 addresses use the 12 byte RFC 793 layout and IPv6 addresses the 40 byte RFC 8200 layout.
func (c *CRC791) WritePseudoHeader(src, dst netip.Addr, proto IPProto, length int) {
	if src.Is4() && dst.Is4() {
		s, d := src.As4(), dst.As4()
		c.Write(s[:])
		c.Write(d[:])
		c.AddUint16(uint16(proto))
		c.AddUint16(uint16(length))
		return
	}
	s, d := src.As16(), dst.As16()
	c.Write(s[:])
	c.Write(d[:])
	c.AddUint32(uint32(length))
	c.AddUint32(uint32(proto))
}

// PseudoHeaderChecksum returns the checksum of segment prefixed by the pseudo-header
// formed from src, dst and proto. The checksum field within segment must be zeroed
// beforehand when calculating a checksum to be written.
func PseudoHeaderChecksum(src, dst netip.Addr, proto IPProto, segment []byte) uint16 {
	var crc CRC791
	crc.WritePseudoHeader(src, dst, proto, len(segment))
	return crc.PayloadSum16(segment)
}
