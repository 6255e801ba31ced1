package ppu

import (
	"bytes"
	"encoding/gob"
)

// InterruptRequester is a callback signature to request IF bits (0:VBlank, 1:STAT, etc.).
type InterruptRequester func(bit int)

// PPU models VRAM/OAM, LCDC/STAT regs, LY/LYC, timing, sprite compositing,
// and (in CGB mode) the second VRAM bank and BG/OBJ color palette RAM. It
// exposes CPU-facing Read/Write for VRAM/OAM and PPU IO regs and produces
// an ARGB8888 framebuffer one scanline at a time as HBlank is entered.
type PPU struct {
	// memory: bank 0 always; bank 1 only meaningful in CGB mode (tile data
	// bank 1, BG attribute maps).
	vram [2][0x2000]byte // 0x8000–0x9FFF
	oam  [0xA0]byte      // 0xFE00–0xFE9F
	vbk  byte            // FF4F bit0: VRAM bank for CPU access

	// regs
	lcdc byte // FF40
	stat byte // FF41 (mode bits 0-1, coincidence flag bit2, enables bits3-6)
	scy  byte // FF42
	scx  byte // FF43
	ly   byte // FF44
	lyc  byte // FF45
	bgp  byte // FF47
	obp0 byte // FF48
	obp1 byte // FF49
	wy   byte // FF4A
	wx   byte // FF4B

	cgbMode bool

	bgPalRAM   [64]byte
	bgPalIndex byte // BCPS: bit7 auto-increment, bits0-5 index
	objPalRAM  [64]byte
	objPalIndex byte // OCPS

	dot int // dots within current line [0..455]

	winLineCounter int

	lineSnaps [144]LineSnapshot

	frame [144 * 160]uint32 // ARGB8888, row-major

	req InterruptRequester
}

func New(req InterruptRequester) *PPU { return &PPU{req: req} }

// SetCGBMode switches tile-map attribute interpretation, palette RAM, and
// the second VRAM bank on or off. The machine sets it from the cartridge's
// CGB-support flag and from its CGB reset/colour toggles; KEY0 writes do not
// change it.
func (p *PPU) SetCGBMode(on bool) { p.cgbMode = on }

// Frame returns the most recently composited frame as ARGB8888 pixels,
// row-major, 160x144.
func (p *PPU) Frame() []uint32 { return p.frame[:] }

// LineRegs returns the register snapshot captured when line ly entered
// pixel-transfer mode, used by renderers and by tests asserting on the
// window-line counter.
func (p *PPU) LineRegs(ly int) LineSnapshot {
	if ly < 0 || ly >= len(p.lineSnaps) {
		return LineSnapshot{}
	}
	return p.lineSnaps[ly]
}

// Read implements VRAMReader against VRAM bank 0, for the DMG fetcher.
func (p *PPU) Read(addr uint16) byte {
	if addr < 0x8000 || addr > 0x9FFF {
		return 0xFF
	}
	return p.vram[0][addr-0x8000]
}

// ReadBank implements BankedVRAMReader for CGB scanline rendering.
func (p *PPU) ReadBank(bank int, addr uint16) byte {
	if addr < 0x8000 || addr > 0x9FFF {
		return 0xFF
	}
	return p.vram[bank&1][addr-0x8000]
}

// RawRead returns VRAM (current CPU-visible bank) or OAM bytes without the
// mode-based lockout CPURead applies. Used by the DMA engines, which keep
// running regardless of what mode the PPU is in.
func (p *PPU) RawRead(addr uint16) byte {
	switch {
	case addr >= 0x8000 && addr <= 0x9FFF:
		return p.vram[p.vbk&1][addr-0x8000]
	case addr >= 0xFE00 && addr <= 0xFE9F:
		return p.oam[addr-0xFE00]
	}
	return 0xFF
}

// RawWrite is RawRead's store counterpart, bypassing mode gating.
func (p *PPU) RawWrite(addr uint16, value byte) {
	switch {
	case addr >= 0x8000 && addr <= 0x9FFF:
		p.vram[p.vbk&1][addr-0x8000] = value
	case addr >= 0xFE00 && addr <= 0xFE9F:
		p.oam[addr-0xFE00] = value
	}
}

// CPURead returns bytes for VRAM, OAM, and PPU IO registers. Returns 0xFF for others.
func (p *PPU) CPURead(addr uint16) byte {
	switch {
	case addr >= 0x8000 && addr <= 0x9FFF:
		// VRAM is inaccessible to CPU during mode 3 (return 0xFF)
		if (p.stat & 0x03) == 3 {
			return 0xFF
		}
		return p.vram[p.vbk&1][addr-0x8000]
	case addr >= 0xFE00 && addr <= 0xFE9F:
		// OAM is inaccessible during modes 2 and 3
		m := p.stat & 0x03
		if m == 2 || m == 3 {
			return 0xFF
		}
		return p.oam[addr-0xFE00]
	case addr == 0xFF40:
		return p.lcdc
	case addr == 0xFF41:
		// On DMG, bit7 reads as 1; bit6..3 are enables; bit2 coincidence; bit1..0 mode
		return 0x80 | (p.stat & 0x7F)
	case addr == 0xFF42:
		return p.scy
	case addr == 0xFF43:
		return p.scx
	case addr == 0xFF44:
		return p.ly
	case addr == 0xFF45:
		return p.lyc
	case addr == 0xFF47:
		return p.bgp
	case addr == 0xFF48:
		return p.obp0
	case addr == 0xFF49:
		return p.obp1
	case addr == 0xFF4A:
		return p.wy
	case addr == 0xFF4B:
		return p.wx
	case addr == 0xFF4F:
		return 0xFE | (p.vbk & 0x01)
	case addr == 0xFF68:
		return 0x40 | p.bgPalIndex
	case addr == 0xFF69:
		return p.bgPalRAM[p.bgPalIndex&0x3F]
	case addr == 0xFF6A:
		return 0x40 | p.objPalIndex
	case addr == 0xFF6B:
		return p.objPalRAM[p.objPalIndex&0x3F]
	default:
		return 0xFF
	}
}

// CPUWrite handles writes to VRAM, OAM, and PPU IO regs. Others are ignored here.
func (p *PPU) CPUWrite(addr uint16, value byte) {
	switch {
	case addr >= 0x8000 && addr <= 0x9FFF:
		if (p.stat & 0x03) == 3 {
			return
		}
		p.vram[p.vbk&1][addr-0x8000] = value
	case addr >= 0xFE00 && addr <= 0xFE9F:
		m := p.stat & 0x03
		if m == 2 || m == 3 {
			return
		}
		p.oam[addr-0xFE00] = value
	case addr == 0xFF40:
		prev := p.lcdc
		p.lcdc = value
		if (p.lcdc&0x80) == 0 && (prev&0x80) != 0 {
			// Turning LCD off resets LY/mode
			p.ly = 0
			p.dot = 0
			p.setMode(0)
			p.updateLYC()
		} else if (p.lcdc&0x80) != 0 && (prev&0x80) == 0 {
			// Turning LCD on: start at LY=0, mode 2 (OAM)
			p.ly = 0
			p.dot = 0
			p.winLineCounter = 0
			p.setMode(2)
			p.updateLYC()
		}
	case addr == 0xFF41:
		p.stat = (p.stat & 0x07) | (value & 0x78)
	case addr == 0xFF42:
		p.scy = value
	case addr == 0xFF43:
		p.scx = value
	case addr == 0xFF44:
		p.ly = 0
		p.dot = 0
		p.updateLYC()
		if (p.lcdc & 0x80) != 0 {
			p.setMode(2)
		}
	case addr == 0xFF45:
		p.lyc = value
		p.updateLYC()
	case addr == 0xFF47:
		p.bgp = value
	case addr == 0xFF48:
		p.obp0 = value
	case addr == 0xFF49:
		p.obp1 = value
	case addr == 0xFF4A:
		p.wy = value
	case addr == 0xFF4B:
		p.wx = value
	case addr == 0xFF4F:
		p.vbk = value & 0x01
	case addr == 0xFF68:
		p.bgPalIndex = value & 0xBF
	case addr == 0xFF69:
		p.bgPalRAM[p.bgPalIndex&0x3F] = value
		if p.bgPalIndex&0x80 != 0 {
			p.bgPalIndex = (p.bgPalIndex & 0x80) | ((p.bgPalIndex + 1) & 0x3F)
		}
	case addr == 0xFF6A:
		p.objPalIndex = value & 0xBF
	case addr == 0xFF6B:
		p.objPalRAM[p.objPalIndex&0x3F] = value
		if p.objPalIndex&0x80 != 0 {
			p.objPalIndex = (p.objPalIndex & 0x80) | ((p.objPalIndex + 1) & 0x3F)
		}
	}
}

// Tick advances PPU state by the given number of dots (CPU cycles).
func (p *PPU) Tick(cycles int) {
	if cycles <= 0 {
		return
	}
	for i := 0; i < cycles; i++ {
		if (p.lcdc & 0x80) == 0 { // LCD off
			continue
		}
		p.dot++
		// Mode scheduling
		var mode byte
		if p.ly >= 144 {
			mode = 1
		} else {
			switch {
			case p.dot < 80:
				mode = 2
			case p.dot < 80+172:
				mode = 3
			default:
				mode = 0
			}
		}
		p.setMode(mode)

		if p.dot >= 456 {
			p.dot = 0
			p.ly++
			if p.ly == 144 {
				// Enter VBlank
				if p.req != nil {
					p.req(0)
				} // VBlank IF
				if (p.stat & (1 << 4)) != 0 {
					if p.req != nil {
						p.req(1)
					}
				} // STAT VBlank
			} else if p.ly > 153 {
				p.ly = 0
				p.winLineCounter = 0
			}
			p.updateLYC()
			// Set mode for new line start (dot=0)
			if p.ly >= 144 {
				p.setMode(1)
			} else {
				p.setMode(2)
			}
		}
	}
}

func (p *PPU) setMode(mode byte) {
	prev := p.stat & 0x03
	if prev == mode {
		return
	}
	p.stat = (p.stat &^ 0x03) | (mode & 0x03)
	if mode == 3 && prev != 3 {
		p.captureLine()
	}
	if mode == 0 && prev == 3 {
		p.renderLine(p.ly)
	}
	switch mode {
	case 0: // HBlank
		if (p.stat & (1 << 3)) != 0 {
			if p.req != nil {
				p.req(1)
			}
		}
	case 2: // OAM
		if (p.stat & (1 << 5)) != 0 {
			if p.req != nil {
				p.req(1)
			}
		}
	}
}

func (p *PPU) updateLYC() {
	if p.ly == p.lyc {
		p.stat |= 1 << 2
		if (p.stat & (1 << 6)) != 0 {
			if p.req != nil {
				p.req(1)
			}
		}
	} else {
		p.stat &^= 1 << 2
	}
}

// captureLine snapshots the registers the renderer needs as a scanline
// starts pixel transfer, including advancing the window-line counter on
// lines where the window is actually drawn.
func (p *PPU) captureLine() {
	if int(p.ly) >= len(p.lineSnaps) {
		return
	}
	windowVisible := (p.lcdc&0x20) != 0 && (p.lcdc&0x01) != 0 && p.ly >= p.wy && int(p.wx) < 166
	snap := LineSnapshot{SCX: p.scx, SCY: p.scy, WX: p.wx, WY: p.wy, LCDC: p.lcdc, BGP: p.bgp, OBP0: p.obp0, OBP1: p.obp1}
	if windowVisible {
		snap.WinVisible = true
		snap.WinLine = p.winLineCounter
		p.winLineCounter++
	}
	p.lineSnaps[p.ly] = snap
}

// Expose palettes and scroll for renderer convenience (optional helpers)
func (p *PPU) BGP() byte  { return p.bgp }
func (p *PPU) OBP0() byte { return p.obp0 }
func (p *PPU) OBP1() byte { return p.obp1 }
func (p *PPU) LCDC() byte { return p.lcdc }
func (p *PPU) SCY() byte  { return p.scy }
func (p *PPU) SCX() byte  { return p.scx }
func (p *PPU) WY() byte   { return p.wy }
func (p *PPU) WX() byte   { return p.wx }

// LineSnapshot is the register state latched as a scanline enters pixel
// transfer, including the running window-line counter.
type LineSnapshot struct {
	SCX, SCY, WX, WY, LCDC, BGP, OBP0, OBP1 byte
	WinVisible                              bool
	WinLine                                 int
}

// --- Save/Load state ---

type ppuState struct {
	VRAM        [2][0x2000]byte
	OAM         [0xA0]byte
	VBK         byte
	LCDC, STAT  byte
	SCY, SCX    byte
	LY, LYC     byte
	BGP, OBP0, OBP1 byte
	WY, WX      byte
	CGBMode     bool
	BGPalRAM    [64]byte
	BGPalIndex  byte
	ObjPalRAM   [64]byte
	ObjPalIndex byte
	Dot         int
	WinLineCtr  int
}

func (p *PPU) SaveState() []byte {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	s := ppuState{
		VRAM: p.vram, OAM: p.oam, VBK: p.vbk,
		LCDC: p.lcdc, STAT: p.stat, SCY: p.scy, SCX: p.scx,
		LY: p.ly, LYC: p.lyc, BGP: p.bgp, OBP0: p.obp0, OBP1: p.obp1,
		WY: p.wy, WX: p.wx, CGBMode: p.cgbMode,
		BGPalRAM: p.bgPalRAM, BGPalIndex: p.bgPalIndex,
		ObjPalRAM: p.objPalRAM, ObjPalIndex: p.objPalIndex,
		Dot: p.dot, WinLineCtr: p.winLineCounter,
	}
	_ = enc.Encode(s)
	return buf.Bytes()
}

func (p *PPU) LoadState(data []byte) {
	if len(data) == 0 {
		return
	}
	var s ppuState
	dec := gob.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&s); err != nil {
		return
	}
	p.vram, p.oam, p.vbk = s.VRAM, s.OAM, s.VBK
	p.lcdc, p.stat, p.scy, p.scx = s.LCDC, s.STAT, s.SCY, s.SCX
	p.ly, p.lyc, p.bgp, p.obp0, p.obp1 = s.LY, s.LYC, s.BGP, s.OBP0, s.OBP1
	p.wy, p.wx, p.cgbMode = s.WY, s.WX, s.CGBMode
	p.bgPalRAM, p.bgPalIndex = s.BGPalRAM, s.BGPalIndex
	p.objPalRAM, p.objPalIndex = s.ObjPalRAM, s.ObjPalIndex
	p.dot, p.winLineCounter = s.Dot, s.WinLineCtr
}
