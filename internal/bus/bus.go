package bus

import (
	"bytes"
	"encoding/gob"
	"io"

	"github.com/alloncm/gbcore-go/internal/cart"
	"github.com/alloncm/gbcore-go/internal/interrupt"
	"github.com/alloncm/gbcore-go/internal/ppu"
	"github.com/alloncm/gbcore-go/internal/timer"
)

const wramBankSize = 0x1000

// Bus wires the CPU-visible address space to the cartridge, WRAM, HRAM,
// PPU, APU, timer, and interrupt controller. It owns the register-level
// side effects hardware inflicts on neighboring components: a DMA write
// arms the OAM copy, a BOOT-disable write unmaps the boot ROM, an SVBK
// write re-points which WRAM bank 0xD000-0xDFFF reads from, and so on.
type Bus struct {
	cart cart.Cartridge

	// Work RAM: 8 banks of 4 KiB on CGB (bank 0 fixed at 0xC000-0xCFFF,
	// SVBK selects the bank visible at 0xD000-0xDFFF); DMG only ever uses
	// bank 1. Echo RAM 0xE000-0xFDFF mirrors the same banks.
	wram     [8][wramBankSize]byte
	wramBank byte // SVBK low 3 bits, 0 treated as 1

	// High RAM (HRAM) 0xFF80-0xFFFE (127 bytes)
	hram [0x7F]byte

	ppu *ppu.PPU
	apu apuTicker

	ic *interrupt.Controller
	tm *timer.Timer

	// JOYP
	joypSelect byte
	joypad     byte
	joypLower4 byte

	// Serial
	sb byte
	sc byte
	sw io.Writer

	// OAM DMA
	dma       byte
	dmaActive bool
	dmaSrc    uint16
	dmaIndex  int
	dmaWait   int // T-cycles until the next byte copies (one per M-cycle)

	// CGB speed switch and compatibility flag
	key0        byte
	key1        byte
	doubleSpeed bool

	// CGB VRAM/WRAM bank selects
	vbk byte

	// CGB general-purpose/HBlank DMA (0xFF51-0xFF55)
	hdmaSrc     uint16
	hdmaDst     uint16
	hdmaLen     int  // remaining bytes, in multiples of 0x10
	hdmaActive  bool
	hdmaHBlank  bool // true: HDMA (copies 0x10 bytes per HBlank entry); false: GDMA (immediate)
	lastPPUMode byte

	// Boot ROM
	bootROM     []byte
	bootEnabled bool
}

// apuTicker is the subset of the APU the bus needs: cycle-driven mixing
// and CPU-facing register access for NR10-NR52 and wave RAM.
type apuTicker interface {
	Tick(cycles int)
	CPURead(addr uint16) byte
	CPUWrite(addr uint16, v byte)
}

// New constructs a Bus with a ROM-only cartridge for convenience.
func New(rom []byte) *Bus {
	return NewWithCartridge(cart.NewCartridge(rom))
}

// NewWithCartridge wires a provided cartridge implementation.
func NewWithCartridge(c cart.Cartridge) *Bus {
	b := &Bus{cart: c, wramBank: 1}
	b.ic = &interrupt.Controller{}
	b.ppu = ppu.New(func(bit int) { b.ic.Request(interrupt.Source(bit)) })
	b.tm = timer.New(func() { b.ic.Request(interrupt.Timer) })
	return b
}

// PPU returns the internal PPU for read-only rendering helpers.
func (b *Bus) PPU() *ppu.PPU { return b.ppu }

// Cart returns the underlying cartridge for optional battery operations.
func (b *Bus) Cart() cart.Cartridge { return b.cart }

// Interrupts returns the interrupt controller so the CPU can poll/service
// requests without the bus re-deriving IE/IF semantics on every access.
func (b *Bus) Interrupts() *interrupt.Controller { return b.ic }

// AttachAPU wires an APU so Tick advances it alongside the PPU and timer.
func (b *Bus) AttachAPU(a apuTicker) { b.apu = a }

// DoubleSpeed reports whether the CGB speed switch is currently engaged.
func (b *Bus) DoubleSpeed() bool { return b.doubleSpeed }

// SpeedSwitchArmed reports whether KEY1 bit0 has been set, arming the
// speed switch for STOP to perform.
func (b *Bus) SpeedSwitchArmed() bool { return b.key1&0x01 != 0 }

// PerformSpeedSwitch toggles CGB double-speed mode and disarms KEY1 bit0;
// called by the CPU's STOP handling when a switch was armed.
func (b *Bus) PerformSpeedSwitch() {
	b.doubleSpeed = !b.doubleSpeed
	b.key1 &^= 0x01
}

func (b *Bus) wramBankIndex() int {
	n := int(b.wramBank & 0x07)
	if n == 0 {
		n = 1
	}
	return n
}

// Read returns the byte visible to the CPU at addr, honoring OAM-DMA
// lockout: while a transfer is in flight the CPU sees 0xFF everywhere
// except HRAM and IE.
func (b *Bus) Read(addr uint16) byte {
	if b.dmaActive && !b.dmaExempt(addr) {
		return 0xFF
	}
	return b.readRaw(addr)
}

// dmaExempt reports whether addr remains CPU-accessible during OAM DMA.
func (b *Bus) dmaExempt(addr uint16) bool {
	return (addr >= 0xFF80 && addr <= 0xFFFE) || addr == 0xFFFF
}

// readRaw dispatches by address range without Read's DMA lockout of
// non-HRAM addresses (OAM itself still reads 0xFF while OAM DMA runs); used by
// the bus itself (OAM/HDMA copy loops) which must read through the
// lockout rather than be blocked by it.
func (b *Bus) readRaw(addr uint16) byte {
	switch {
	case addr < 0x8000:
		if b.bootEnabled && addr < 0x0100 && len(b.bootROM) >= 0x100 {
			return b.bootROM[addr]
		}
		return b.cart.Read(addr)
	case addr >= 0x8000 && addr <= 0x9FFF:
		return b.ppu.CPURead(addr)
	case addr >= 0xA000 && addr <= 0xBFFF:
		return b.cart.Read(addr)

	case addr >= 0xC000 && addr <= 0xCFFF:
		return b.wram[0][addr-0xC000]
	case addr >= 0xD000 && addr <= 0xDFFF:
		return b.wram[b.wramBankIndex()][addr-0xD000]

	case addr >= 0xE000 && addr <= 0xFDFF:
		mirror := addr - 0x2000
		if mirror <= 0xCFFF {
			return b.wram[0][mirror-0xC000]
		}
		return b.wram[b.wramBankIndex()][mirror-0xD000]

	case addr >= 0xFF80 && addr <= 0xFFFE:
		return b.hram[addr-0xFF80]
	case addr >= 0xFE00 && addr <= 0xFE9F:
		if b.dmaActive {
			return 0xFF
		}
		return b.ppu.CPURead(addr)
	case addr >= 0xFEA0 && addr <= 0xFEFF:
		return 0x00
	case addr == 0xFF00:
		res := byte(0xC0 | (b.joypSelect & 0x30) | 0x0F)
		if (b.joypSelect & 0x10) == 0 {
			if b.joypad&JoypRight != 0 {
				res &^= 0x01
			}
			if b.joypad&JoypLeft != 0 {
				res &^= 0x02
			}
			if b.joypad&JoypUp != 0 {
				res &^= 0x04
			}
			if b.joypad&JoypDown != 0 {
				res &^= 0x08
			}
		}
		if (b.joypSelect & 0x20) == 0 {
			if b.joypad&JoypA != 0 {
				res &^= 0x01
			}
			if b.joypad&JoypB != 0 {
				res &^= 0x02
			}
			if b.joypad&JoypSelectBtn != 0 {
				res &^= 0x04
			}
			if b.joypad&JoypStart != 0 {
				res &^= 0x08
			}
		}
		return res
	case addr == 0xFF04:
		return b.tm.DIV()
	case addr == 0xFF05:
		return b.tm.TIMA()
	case addr == 0xFF06:
		return b.tm.TMA()
	case addr == 0xFF07:
		return b.tm.TAC()
	case addr == 0xFF01:
		return b.sb
	case addr == 0xFF02:
		return 0x7E | (b.sc & 0x81)
	case addr >= 0xFF10 && addr <= 0xFF26:
		if b.apu == nil {
			return 0xFF
		}
		return b.apu.CPURead(addr)
	case addr >= 0xFF30 && addr <= 0xFF3F:
		if b.apu == nil {
			return 0xFF
		}
		return b.apu.CPURead(addr)
	case addr == 0xFF40, addr == 0xFF41, addr == 0xFF42, addr == 0xFF43,
		addr == 0xFF44, addr == 0xFF45,
		addr == 0xFF47, addr == 0xFF48, addr == 0xFF49,
		addr == 0xFF4A, addr == 0xFF4B:
		return b.ppu.CPURead(addr)
	case addr >= 0xFF68 && addr <= 0xFF6B:
		return b.ppu.CPURead(addr)
	case addr == 0xFF46:
		return b.dma
	case addr == 0xFF4C:
		return b.key0
	case addr == 0xFF4D:
		res := byte(0x7E)
		if b.doubleSpeed {
			res |= 0x80
		}
		res |= b.key1 & 0x01
		return res
	case addr == 0xFF4F:
		return 0xFE | (b.vbk & 0x01)
	case addr == 0xFF51, addr == 0xFF52, addr == 0xFF53, addr == 0xFF54:
		return 0xFF // HDMA source/dest registers are write-only
	case addr == 0xFF55:
		if !b.hdmaActive {
			return 0xFF
		}
		remaining := byte((b.hdmaLen/0x10 - 1) & 0x7F)
		return remaining
	case addr == 0xFF70:
		return 0xF8 | (b.wramBank & 0x07)
	case addr == 0xFF50:
		return 0xFF
	case addr == 0xFF0F:
		return 0xE0 | (b.ic.IF & 0x1F)
	case addr == 0xFFFF:
		return b.ic.IE
	}
	return 0xFF
}

// Write stores value at addr, honoring the same OAM-DMA lockout as Read:
// writes outside HRAM/IE are silently dropped while a transfer runs.
func (b *Bus) Write(addr uint16, value byte) {
	if b.dmaActive && !b.dmaExempt(addr) {
		return
	}
	b.writeRaw(addr, value)
}

// writeRaw dispatches by address range without Write's DMA lockout of
// non-HRAM addresses; OAM writes are still dropped while OAM DMA runs.
func (b *Bus) writeRaw(addr uint16, value byte) {
	switch {
	case addr < 0x8000:
		b.cart.Write(addr, value)
		return
	case addr >= 0x8000 && addr <= 0x9FFF:
		b.ppu.CPUWrite(addr, value)
		return
	case addr >= 0xA000 && addr <= 0xBFFF:
		b.cart.Write(addr, value)
		return

	case addr >= 0xC000 && addr <= 0xCFFF:
		b.wram[0][addr-0xC000] = value
		return
	case addr >= 0xD000 && addr <= 0xDFFF:
		b.wram[b.wramBankIndex()][addr-0xD000] = value
		return

	case addr >= 0xE000 && addr <= 0xFDFF:
		mirror := addr - 0x2000
		if mirror <= 0xCFFF {
			b.wram[0][mirror-0xC000] = value
		} else {
			b.wram[b.wramBankIndex()][mirror-0xD000] = value
		}
		return

	case addr >= 0xFF80 && addr <= 0xFFFE:
		b.hram[addr-0xFF80] = value
		return
	case addr >= 0xFE00 && addr <= 0xFE9F:
		if b.dmaActive {
			return
		}
		b.ppu.CPUWrite(addr, value)
		return
	case addr == 0xFF00:
		b.joypSelect = value & 0x30
		b.updateJoypadIRQ()
		return
	case addr == 0xFF04:
		b.tm.WriteDIV()
		return
	case addr == 0xFF05:
		b.tm.WriteTIMA(value)
		return
	case addr == 0xFF06:
		b.tm.WriteTMA(value)
		return
	case addr == 0xFF07:
		b.tm.WriteTAC(value)
		return
	case addr == 0xFF01:
		b.sb = value
		return
	case addr == 0xFF02:
		b.sc = value & 0x81
		if (b.sc & 0x80) != 0 {
			if b.sw != nil {
				_, _ = b.sw.Write([]byte{b.sb})
			}
			b.ic.Request(interrupt.Serial)
			b.sc &^= 0x80
		}
		return
	case addr >= 0xFF10 && addr <= 0xFF26:
		if b.apu != nil {
			b.apu.CPUWrite(addr, value)
		}
		return
	case addr >= 0xFF30 && addr <= 0xFF3F:
		if b.apu != nil {
			b.apu.CPUWrite(addr, value)
		}
		return
	case addr == 0xFF40, addr == 0xFF41, addr == 0xFF42, addr == 0xFF43,
		addr == 0xFF44, addr == 0xFF45,
		addr == 0xFF47, addr == 0xFF48, addr == 0xFF49,
		addr == 0xFF4A, addr == 0xFF4B:
		b.ppu.CPUWrite(addr, value)
		return
	case addr >= 0xFF68 && addr <= 0xFF6B:
		b.ppu.CPUWrite(addr, value)
		return
	case addr == 0xFF46:
		b.dma = value
		b.dmaActive = true
		b.dmaSrc = uint16(value) << 8
		b.dmaIndex = 0
		b.dmaWait = 4
		return
	case addr == 0xFF4C:
		b.key0 = value
		return
	case addr == 0xFF4D:
		b.key1 = (b.key1 &^ 0x01) | (value & 0x01)
		return
	case addr == 0xFF4F:
		b.vbk = value & 0x01
		b.ppu.CPUWrite(addr, value)
		return
	case addr == 0xFF51:
		b.hdmaSrc = (b.hdmaSrc & 0x00FF) | (uint16(value) << 8)
		return
	case addr == 0xFF52:
		b.hdmaSrc = (b.hdmaSrc & 0xFF00) | uint16(value&0xF0)
		return
	case addr == 0xFF53:
		b.hdmaDst = (b.hdmaDst & 0x00FF) | (uint16(value&0x1F) << 8)
		return
	case addr == 0xFF54:
		b.hdmaDst = (b.hdmaDst & 0xFF00) | uint16(value&0xF0)
		return
	case addr == 0xFF55:
		b.writeHDMATrigger(value)
		return
	case addr == 0xFF70:
		b.wramBank = value & 0x07
		return
	case addr == 0xFF50:
		if value != 0x00 {
			b.bootEnabled = false
		}
		return
	case addr == 0xFF0F:
		b.ic.IF = value & 0x1F
		return
	case addr == 0xFFFF:
		b.ic.IE = value
		return
	}
}

// writeHDMATrigger implements the FF55 handshake: bit7 clear requests an
// immediate general-purpose DMA of (low7+1)*0x10 bytes; bit7 set arms an
// HBlank-paced transfer that copies one 0x10-byte block each time the PPU
// enters HBlank, until the requested length is exhausted or a second
// bit7-clear write cancels it mid-flight.
func (b *Bus) writeHDMATrigger(value byte) {
	if b.hdmaActive && value&0x80 == 0 {
		b.hdmaActive = false
		return
	}
	length := (int(value&0x7F) + 1) * 0x10
	b.hdmaLen = length
	if value&0x80 == 0 {
		b.runGDMA(length)
		return
	}
	b.hdmaActive = true
	b.hdmaHBlank = true
}

func (b *Bus) runGDMA(length int) {
	for i := 0; i < length; i++ {
		v := b.dmaRead(b.hdmaSrc + uint16(i))
		b.ppu.RawWrite(0x8000|((b.hdmaDst+uint16(i))&0x1FFF), v)
	}
	b.hdmaSrc += uint16(length)
	b.hdmaDst += uint16(length)
	b.hdmaLen = 0
}

// dmaRead fetches a source byte for the DMA engines, bypassing the PPU's
// mode-based lockout that only applies to CPU accesses.
func (b *Bus) dmaRead(addr uint16) byte {
	if addr >= 0x8000 && addr <= 0x9FFF {
		return b.ppu.RawRead(addr)
	}
	return b.readRaw(addr)
}

// stepHDMA copies one 0x10-byte block when the PPU has just entered
// HBlank, as real HDMA does; Tick calls it on the step in which the PPU
// enters HBlank.
func (b *Bus) stepHDMA() {
	if !b.hdmaActive || !b.hdmaHBlank {
		return
	}
	mode := b.ppu.CPURead(0xFF41) & 0x03
	if mode != 0 || b.lastPPUMode == 0 {
		return
	}
	const block = 0x10
	for i := 0; i < block; i++ {
		v := b.dmaRead(b.hdmaSrc + uint16(i))
		b.ppu.RawWrite(0x8000|((b.hdmaDst+uint16(i))&0x1FFF), v)
	}
	b.hdmaSrc += block
	b.hdmaDst += block
	b.hdmaLen -= block
	if b.hdmaLen <= 0 {
		b.hdmaActive = false
	}
}

// Joypad button bitmasks for SetJoypadState. Bits set mean "pressed".
const (
	JoypRight     = 1 << 0
	JoypLeft      = 1 << 1
	JoypUp        = 1 << 2
	JoypDown      = 1 << 3
	JoypA         = 1 << 4
	JoypB         = 1 << 5
	JoypSelectBtn = 1 << 6
	JoypStart     = 1 << 7
)

// SetJoypadState sets which buttons are currently pressed.
func (b *Bus) SetJoypadState(mask byte) {
	b.joypad = mask
	b.updateJoypadIRQ()
}

// SetSerialWriter sets a sink that receives bytes written via the serial port.
func (b *Bus) SetSerialWriter(w io.Writer) { b.sw = w }

// SetBootROM loads a boot ROM to be mapped at 0x0000-0x00FF until disabled
// via a 0xFF50 write.
func (b *Bus) SetBootROM(data []byte) {
	b.bootROM = nil
	b.bootEnabled = false
	if len(data) >= 0x100 {
		b.bootROM = make([]byte, 0x100)
		copy(b.bootROM, data[:0x100])
		b.bootEnabled = true
	}
}

// Tick advances the timer, OAM DMA, PPU (followed by an HBlank DMA block
// when the PPU has just entered HBlank), APU, and cartridge RTC (if any) by
// the given number of T-cycles, in that order: a timer interrupt
// raised mid-frame must be visible before the same step's V-blank.
func (b *Bus) Tick(cycles int) {
	if cycles <= 0 {
		return
	}
	b.tm.Tick(cycles)

	// OAM DMA copies one byte per M-cycle, 160 M-cycles for the full table.
	for i := 0; i < cycles && b.dmaActive; i++ {
		b.dmaWait--
		if b.dmaWait > 0 {
			continue
		}
		b.dmaWait = 4
		v := b.dmaRead(b.dmaSrc + uint16(b.dmaIndex))
		b.ppu.RawWrite(0xFE00+uint16(b.dmaIndex), v)
		b.dmaIndex++
		if b.dmaIndex >= 0xA0 {
			b.dmaActive = false
		}
	}

	if b.ppu != nil {
		b.ppu.Tick(cycles)
		mode := b.ppu.CPURead(0xFF41) & 0x03
		if mode == 0 && b.lastPPUMode != 0 {
			b.stepHDMA()
		}
		b.lastPPUMode = mode
	}
	if b.apu != nil {
		b.apu.Tick(cycles)
	}
	if t, ok := b.cart.(cart.Ticker); ok {
		t.Tick(cycles)
	}
}

// updateJoypadIRQ recomputes JOYP lower 4 bits (active-low) and requests
// the joypad interrupt on any 1->0 transition.
func (b *Bus) updateJoypadIRQ() {
	newLower := byte(0x0F)
	if (b.joypSelect & 0x10) == 0 {
		if b.joypad&JoypRight != 0 {
			newLower &^= 0x01
		}
		if b.joypad&JoypLeft != 0 {
			newLower &^= 0x02
		}
		if b.joypad&JoypUp != 0 {
			newLower &^= 0x04
		}
		if b.joypad&JoypDown != 0 {
			newLower &^= 0x08
		}
	}
	if (b.joypSelect & 0x20) == 0 {
		if b.joypad&JoypA != 0 {
			newLower &^= 0x01
		}
		if b.joypad&JoypB != 0 {
			newLower &^= 0x02
		}
		if b.joypad&JoypSelectBtn != 0 {
			newLower &^= 0x04
		}
		if b.joypad&JoypStart != 0 {
			newLower &^= 0x08
		}
	}
	falling := b.joypLower4 &^ newLower
	if falling != 0 {
		b.ic.Request(interrupt.Joypad)
	}
	b.joypLower4 = newLower
}

// --- Save/Load state ---

type busState struct {
	WRAM     [8][wramBankSize]byte
	WRAMBank byte
	HRAM     [0x7F]byte
	IE, IF    byte
	IME       bool
	EIPending bool
	JoypSel   byte
	Joypad   byte
	JoypL4   byte
	Timer    timer.State
	SB, SC   byte
	DMA       byte
	DMAActive bool
	DMASrc    uint16
	DMAIdx    int
	DMAWait   int
	BootEn    bool
	Key0, Key1 byte
	DoubleSpd  bool
	VBK        byte
	HdmaSrc, HdmaDst uint16
	HdmaLen          int
	HdmaActive       bool
	HdmaHBlank       bool
}

func (b *Bus) SaveState() []byte {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	s := busState{
		WRAM: b.wram, WRAMBank: b.wramBank, HRAM: b.hram,
		IE: b.ic.IE, IF: b.ic.IF,
		IME: b.ic.IME, EIPending: b.ic.EIArmed(),
		JoypSel: b.joypSelect, Joypad: b.joypad, JoypL4: b.joypLower4,
		Timer: b.tm.Snapshot(),
		SB:    b.sb, SC: b.sc,
		DMA: b.dma, DMAActive: b.dmaActive, DMASrc: b.dmaSrc, DMAIdx: b.dmaIndex, DMAWait: b.dmaWait,
		BootEn:     b.bootEnabled,
		Key0:       b.key0,
		Key1:       b.key1,
		DoubleSpd:  b.doubleSpeed,
		VBK:        b.vbk,
		HdmaSrc:    b.hdmaSrc,
		HdmaDst:    b.hdmaDst,
		HdmaLen:    b.hdmaLen,
		HdmaActive: b.hdmaActive,
		HdmaHBlank: b.hdmaHBlank,
	}
	_ = enc.Encode(s)
	if b.ppu != nil {
		_ = enc.Encode(b.ppu.SaveState())
	} else {
		_ = enc.Encode([]byte(nil))
	}
	if bb, ok := b.cart.(interface{ SaveState() []byte }); ok {
		_ = enc.Encode(bb.SaveState())
	} else {
		_ = enc.Encode([]byte(nil))
	}
	return buf.Bytes()
}

func (b *Bus) LoadState(data []byte) {
	dec := gob.NewDecoder(bytes.NewReader(data))
	var s busState
	if err := dec.Decode(&s); err != nil {
		return
	}
	b.wram, b.wramBank = s.WRAM, s.WRAMBank
	b.hram = s.HRAM
	b.ic.IE, b.ic.IF = s.IE, s.IF
	b.ic.IME = s.IME
	if s.EIPending {
		b.ic.ScheduleEnable()
	} else {
		b.ic.CancelScheduledEnable()
	}
	b.joypSelect, b.joypad, b.joypLower4 = s.JoypSel, s.Joypad, s.JoypL4
	b.tm.Restore(s.Timer)
	b.sb, b.sc = s.SB, s.SC
	b.dma, b.dmaActive, b.dmaSrc, b.dmaIndex = s.DMA, s.DMAActive, s.DMASrc, s.DMAIdx
	b.dmaWait = s.DMAWait
	b.bootEnabled = s.BootEn
	b.key0, b.key1, b.doubleSpeed = s.Key0, s.Key1, s.DoubleSpd
	b.vbk = s.VBK
	b.hdmaSrc, b.hdmaDst, b.hdmaLen, b.hdmaActive, b.hdmaHBlank = s.HdmaSrc, s.HdmaDst, s.HdmaLen, s.HdmaActive, s.HdmaHBlank

	var ps []byte
	if err := dec.Decode(&ps); err == nil && b.ppu != nil {
		b.ppu.LoadState(ps)
	}
	var cs []byte
	if err := dec.Decode(&cs); err == nil {
		if bb, ok := b.cart.(interface{ LoadState([]byte) }); ok {
			bb.LoadState(cs)
		}
	}
}
