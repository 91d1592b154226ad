// Package hlw8032 decodes the serial telemetry frame emitted by the HLW8032
// energy metering chip and converts its registers to physical units.
//
// Memory map of one frame:
//
//	[00,00] State Register
//	[01,01] Check Register
//	[02,04] Voltage Parameter Register
//	[05,07] Voltage Register
//	[08,10] Current Parameter Register
//	[11,13] Current Register
//	[14,16] Power Parameter Register
//	[17,19] Power Register
//	[20,20] Data Update Register
//	[21,22] PF Register
//	[23,23] Checksum Register
package hlw8032

import "fmt"

const FrameLength = 24

// CheckRegisterValue is the fixed value of byte 1 in every aligned frame.
const CheckRegisterValue byte = 0x5A

const (
	offState          = 0
	offCheck          = 1
	offVoltageParam   = 2
	offVoltageReg     = 5
	offCurrentParam   = 8
	offCurrentReg     = 11
	offPowerParam     = 14
	offPowerReg       = 17
	offUpdateStatus   = 20
	offPowerFactorReg = 21
	offChecksum       = 23

	// Checksum covers bytes 2 through 22 inclusive.
	checksumStart = offVoltageParam
	checksumEnd   = offChecksum - 1
)

// UpdateStatus is the data update register (byte 20).
type UpdateStatus byte

const (
	PowerRegUpdated       UpdateStatus = 1 << 4
	CurrentRegUpdated     UpdateStatus = 1 << 5
	VoltageRegUpdated     UpdateStatus = 1 << 6
	PowerFactorOverflowed UpdateStatus = 1 << 7
)

func (s UpdateStatus) Has(flag UpdateStatus) bool {
	return s&flag != 0
}

// Frame is one decoded transmission. Values are raw register contents.
type Frame struct {
	State          byte
	Check          byte
	VoltageParam   uint32
	VoltageReg     uint32
	CurrentParam   uint32
	CurrentReg     uint32
	PowerParam     uint32
	PowerReg       uint32
	UpdateStatus   UpdateStatus
	PowerFactorReg uint16
	Checksum       byte
}

// Checksum returns the low 8 bits of the sum of bytes 2..22.
func Checksum(raw []byte) byte {
	var sum byte
	for i := checksumStart; i <= checksumEnd; i++ {
		sum += raw[i]
	}
	return sum
}

// ParseFrame validates and decodes a raw frame.
// The check register is validated before the checksum.
func ParseFrame(raw []byte) (Frame, error) {
	if len(raw) != FrameLength {
		return Frame{}, fmt.Errorf("%w: got %d bytes", ErrFrameLength, len(raw))
	}
	if raw[offCheck] != CheckRegisterValue {
		return Frame{}, fmt.Errorf("%w: check register 0x%02X", ErrSync, raw[offCheck])
	}
	if sum := Checksum(raw); sum != raw[offChecksum] {
		return Frame{}, fmt.Errorf("%w: computed 0x%02X, frame 0x%02X", ErrChecksum, sum, raw[offChecksum])
	}

	return Frame{
		State:          raw[offState],
		Check:          raw[offCheck],
		VoltageParam:   be24(raw[offVoltageParam:]),
		VoltageReg:     be24(raw[offVoltageReg:]),
		CurrentParam:   be24(raw[offCurrentParam:]),
		CurrentReg:     be24(raw[offCurrentReg:]),
		PowerParam:     be24(raw[offPowerParam:]),
		PowerReg:       be24(raw[offPowerReg:]),
		UpdateStatus:   UpdateStatus(raw[offUpdateStatus]),
		PowerFactorReg: be16(raw[offPowerFactorReg:]),
		Checksum:       raw[offChecksum],
	}, nil
}

// Encode returns the wire form of f. The checksum byte is recomputed
// and the Checksum field is ignored.
func (f Frame) Encode() [FrameLength]byte {
	var raw [FrameLength]byte
	raw[offState] = f.State
	raw[offCheck] = f.Check
	putBE24(raw[offVoltageParam:], f.VoltageParam)
	putBE24(raw[offVoltageReg:], f.VoltageReg)
	putBE24(raw[offCurrentParam:], f.CurrentParam)
	putBE24(raw[offCurrentReg:], f.CurrentReg)
	putBE24(raw[offPowerParam:], f.PowerParam)
	putBE24(raw[offPowerReg:], f.PowerReg)
	raw[offUpdateStatus] = byte(f.UpdateStatus)
	raw[offPowerFactorReg] = byte(f.PowerFactorReg >> 8)
	raw[offPowerFactorReg+1] = byte(f.PowerFactorReg)
	raw[offChecksum] = Checksum(raw[:])
	return raw
}

// HLW8032 transmits high byte -> middle byte -> low byte.
func be24(b []byte) uint32 {
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
}

func be16(b []byte) uint16 {
	return uint16(b[0])<<8 | uint16(b[1])
}

func putBE24(b []byte, v uint32) {
	b[0] = byte(v >> 16)
	b[1] = byte(v >> 8)
	b[2] = byte(v)
}
