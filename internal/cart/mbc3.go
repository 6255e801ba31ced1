package cart

import (
	"bytes"
	"encoding/gob"
)

// MBC3 implements ROM/RAM banking plus the optional real-time clock
// register file. Banking behavior:
// - 0000-1FFF: RAM/RTC enable (0x0A in low nibble)
// - 2000-3FFF: ROM bank low 7 bits (0 maps to 1)
// - 4000-5FFF: RAM bank (0-3) or RTC register select (0x08-0x0C)
// - 6000-7FFF: writing 0x00 then 0x01 latches the live RTC into the
//   register file the CPU reads back through 0xA000-0xBFFF
// - A000-BFFF: external RAM, or the latched RTC register selected above
// ROM: bank 0 fixed at 0000-3FFF; switchable 4000-7FFF uses bank (1..127)
const cpuHz = 4194304

// rtcRegister indexes the five addressable clock registers.
type rtcRegister int

const (
	rtcSeconds rtcRegister = 0x08
	rtcMinutes rtcRegister = 0x09
	rtcHours   rtcRegister = 0x0A
	rtcDayLow  rtcRegister = 0x0B
	rtcDayHigh rtcRegister = 0x0C // bit0: day high bit, bit6: halt, bit7: day carry
)

type rtc struct {
	seconds, minutes, hours byte
	dayLow                  byte
	dayHigh                 byte // bit0 day bit8, bit6 halt, bit7 carry

	latched rtcSnapshot // snapshot read back by the CPU after a latch pulse
	latchSeq byte // tracks the 0x00,0x01 write sequence to 0x6000-0x7FFF

	cycleAccum int
}

// rtcSnapshot is the latched copy of the clock registers; fields are
// exported so the battery save file's gob payload can carry it.
type rtcSnapshot struct {
	Seconds, Minutes, Hours, DayLow, DayHigh byte
}

func (r *rtc) tick(cycles int) {
	if r.dayHigh&0x40 != 0 { // halted
		return
	}
	r.cycleAccum += cycles
	for r.cycleAccum >= cpuHz {
		r.cycleAccum -= cpuHz
		r.seconds++
		if r.seconds < 60 {
			continue
		}
		r.seconds = 0
		r.minutes++
		if r.minutes < 60 {
			continue
		}
		r.minutes = 0
		r.hours++
		if r.hours < 24 {
			continue
		}
		r.hours = 0
		if r.dayLow == 0xFF {
			r.dayLow = 0
			if r.dayHigh&0x01 != 0 {
				r.dayHigh |= 0x80 // day counter overflow: set carry
				r.dayHigh &^= 0x01
			} else {
				r.dayHigh |= 0x01
			}
		} else {
			r.dayLow++
		}
	}
}

func (r *rtc) latch() {
	r.latched = rtcSnapshot{r.seconds, r.minutes, r.hours, r.dayLow, r.dayHigh}
}

func (r *rtc) restore(s rtcSnapshot) {
	r.seconds, r.minutes, r.hours = s.Seconds, s.Minutes, s.Hours
	r.dayLow, r.dayHigh = s.DayLow, s.DayHigh
}

func (r *rtc) writeLatchTrigger(v byte) {
	if r.latchSeq == 0 && v == 0x00 {
		r.latchSeq = 1
		return
	}
	if r.latchSeq == 1 && v == 0x01 {
		r.latch()
	}
	r.latchSeq = 0
}

func (r *rtc) read(reg rtcRegister) byte {
	switch reg {
	case rtcSeconds:
		return r.latched.Seconds
	case rtcMinutes:
		return r.latched.Minutes
	case rtcHours:
		return r.latched.Hours
	case rtcDayLow:
		return r.latched.DayLow
	case rtcDayHigh:
		return r.latched.DayHigh
	}
	return 0xFF
}

func (r *rtc) write(reg rtcRegister, v byte) {
	switch reg {
	case rtcSeconds:
		r.seconds = v % 60
	case rtcMinutes:
		r.minutes = v % 60
	case rtcHours:
		r.hours = v % 24
	case rtcDayLow:
		r.dayLow = v
	case rtcDayHigh:
		r.dayHigh = v & 0xC1
	}
}

type MBC3 struct {
	rom []byte
	ram []byte

	ramEnabled bool
	romBank    byte // 7 bits (1..127)
	ramBank    byte // 0..3, or an rtcRegister select value (0x08..0x0C)

	hasRTC bool
	clock  rtc
}

func NewMBC3(rom []byte, ramSize int) *MBC3 {
	m := &MBC3{rom: rom, hasRTC: true}
	if ramSize > 0 {
		m.ram = make([]byte, ramSize)
	}
	m.romBank = 1
	return m
}

// Tick advances the real-time clock by cycles T-cycles. The bus calls
// this alongside PPU/APU/timer ticks; cartridges without an RTC ignore it.
func (m *MBC3) Tick(cycles int) {
	if m.hasRTC {
		m.clock.tick(cycles)
	}
}

func (m *MBC3) selectingRTC() bool {
	return m.ramBank >= byte(rtcSeconds) && m.ramBank <= byte(rtcDayHigh)
}

func (m *MBC3) Read(addr uint16) byte {
	switch {
	case addr < 0x4000:
		if int(addr) < len(m.rom) {
			return m.rom[addr]
		}
		return 0xFF
	case addr < 0x8000:
		bank := int(m.romBank & 0x7F)
		if bank == 0 {
			bank = 1
		}
		off := bank*0x4000 + int(addr-0x4000)
		if off >= 0 && off < len(m.rom) {
			return m.rom[off]
		}
		return 0xFF
	case addr >= 0xA000 && addr <= 0xBFFF:
		if !m.ramEnabled {
			return 0xFF
		}
		if m.hasRTC && m.selectingRTC() {
			return m.clock.read(rtcRegister(m.ramBank))
		}
		if len(m.ram) == 0 {
			return 0xFF
		}
		rb := int(m.ramBank & 0x03)
		off := rb*0x2000 + int(addr-0xA000)
		if off >= 0 && off < len(m.ram) {
			return m.ram[off]
		}
		return 0xFF
	default:
		return 0xFF
	}
}

func (m *MBC3) Write(addr uint16, value byte) {
	switch {
	case addr < 0x2000:
		m.ramEnabled = (value & 0x0F) == 0x0A
	case addr < 0x4000:
		v := value & 0x7F
		if v == 0 {
			v = 1
		}
		m.romBank = v
	case addr < 0x6000:
		// 0x00-0x03 select a RAM bank; 0x08-0x0C select an RTC register.
		if value <= 0x03 {
			m.ramBank = value & 0x03
		} else if m.hasRTC && value >= 0x08 && value <= 0x0C {
			m.ramBank = value
		} else {
			m.ramBank = 0
		}
	case addr < 0x8000:
		if m.hasRTC {
			m.clock.writeLatchTrigger(value)
		}
	case addr >= 0xA000 && addr <= 0xBFFF:
		if !m.ramEnabled {
			return
		}
		if m.hasRTC && m.selectingRTC() {
			m.clock.write(rtcRegister(m.ramBank), value)
			return
		}
		if len(m.ram) == 0 {
			return
		}
		rb := int(m.ramBank & 0x03)
		off := rb*0x2000 + int(addr-0xA000)
		if off >= 0 && off < len(m.ram) {
			m.ram[off] = value
		}
	}
}

// BatteryBacked implementation. RTC state travels alongside RAM in the
// save file so the clock registers (advanced by emulated T-cycles, not
// host time) survive a restart.
type mbc3Save struct {
	RAM   []byte
	Clock rtcSnapshot
	Live  rtcSnapshot
}

func (m *MBC3) SaveRAM() []byte {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	s := mbc3Save{
		RAM:   append([]byte(nil), m.ram...),
		Clock: m.clock.latched,
		Live:  rtcSnapshot{m.clock.seconds, m.clock.minutes, m.clock.hours, m.clock.dayLow, m.clock.dayHigh},
	}
	if err := enc.Encode(s); err != nil {
		return nil
	}
	return buf.Bytes()
}

func (m *MBC3) LoadRAM(data []byte) {
	if len(data) == 0 {
		return
	}
	var s mbc3Save
	dec := gob.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&s); err != nil {
		// Legacy save files are a bare RAM dump with no RTC payload.
		if len(m.ram) > 0 {
			copy(m.ram, data)
		}
		return
	}
	if len(m.ram) > 0 {
		copy(m.ram, s.RAM)
	}
	m.clock.latched = s.Clock
	m.clock.restore(s.Live)
}

func (m *MBC3) SaveState() []byte { return m.SaveRAM() }
func (m *MBC3) LoadState(data []byte) { m.LoadRAM(data) }
