package ppu

import "sort"

// Sprite is one OAM entry placed in screen space for the scanline being
// composed: X/Y already have the OAM's +8/+16 offset removed.
type Sprite struct {
	X, Y     int
	Tile     byte
	Attr     byte
	OAMIndex int
	Tall     bool // LCDC bit2: 8x16 sprite mode
}

// scanSpritesForLine reads OAM and returns the sprites overlapping ly,
// capped at 10 as real hardware is, in OAM order.
func (p *PPU) scanSpritesForLine(ly byte) []Sprite {
	tall := p.lcdc&0x04 != 0
	height := 8
	if tall {
		height = 16
	}
	var found []Sprite
	for i := 0; i < 40 && len(found) < 10; i++ {
		base := i * 4
		oamY := int(p.oam[base]) - 16
		oamX := int(p.oam[base+1]) - 8
		tile := p.oam[base+2]
		attr := p.oam[base+3]
		if int(ly) < oamY || int(ly) >= oamY+height {
			continue
		}
		if tall {
			tile &^= 0x01
		}
		found = append(found, Sprite{X: oamX, Y: oamY, Tile: tile, Attr: attr, OAMIndex: i, Tall: tall})
	}
	return found
}

// ComposeSpriteLine draws up to len(sprites) 8-pixel-wide sprites onto a
// single scanline, honoring DMG X-then-OAM-index priority or CGB
// OAM-index-only priority, transparency (color index 0), and the
// BG-priority attribute bit (0x80) that lets opaque BG colors 1-3 win.
func ComposeSpriteLine(mem VRAMReader, sprites []Sprite, ly byte, bgci [160]byte, cgb bool) [160]byte {
	ci, _, _ := composeSpriteLineFull(mem, sprites, ly, bgci, cgb)
	return ci
}

// composeSpriteLineFull is ComposeSpriteLine plus, per pixel, the winning
// sprite's CGB palette number (attr bits 0-2) and DMG palette selector
// (attr bit4: false=OBP0, true=OBP1) needed to turn a color index into an
// actual color.
func composeSpriteLineFull(mem VRAMReader, sprites []Sprite, ly byte, bgci [160]byte, cgb bool) (ci [160]byte, cgbPal [160]byte, useOBP1 [160]bool) {
	var winnerX, winnerIdx [160]int
	for x := range winnerX {
		winnerX[x] = -1
		winnerIdx[x] = -1
	}

	ordered := make([]Sprite, len(sprites))
	copy(ordered, sprites)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].OAMIndex < ordered[j].OAMIndex })

	for _, s := range ordered {
		height := 8
		if s.Tall {
			height = 16
		}
		row := int(ly) - s.Y
		if row < 0 || row >= height {
			continue
		}
		if s.Attr&0x40 != 0 { // Y-flip: mirror across the full sprite height
			row = height - 1 - row
		}
		tile := s.Tile
		tileRow := row
		if s.Tall && row > 7 {
			tile |= 0x01
			tileRow -= 8
		}
		base := uint16(tile)*16 + uint16(tileRow)*2
		var lo, hi byte
		if br, ok := mem.(BankedVRAMReader); cgb && ok {
			// CGB sprites pick their tile-data VRAM bank via attr bit 3.
			bank := int((s.Attr >> 3) & 1)
			lo = br.ReadBank(bank, 0x8000+base)
			hi = br.ReadBank(bank, 0x8000+base+1)
		} else {
			lo = mem.Read(0x8000 + base)
			hi = mem.Read(0x8000 + base + 1)
		}
		for col := 0; col < 8; col++ {
			px := s.X + col
			if px < 0 || px >= 160 {
				continue
			}
			bit := 7 - col
			if s.Attr&0x20 != 0 { // X-flip
				bit = col
			}
			pixel := ((hi>>uint(bit))&1)<<1 | ((lo >> uint(bit)) & 1)
			if pixel == 0 {
				continue
			}
			better := false
			switch {
			case winnerX[px] == -1:
				better = true
			case cgb:
				better = s.OAMIndex < winnerIdx[px]
			case s.X != winnerX[px]:
				better = s.X < winnerX[px]
			default:
				better = s.OAMIndex < winnerIdx[px]
			}
			if !better {
				continue
			}
			winnerX[px], winnerIdx[px] = s.X, s.OAMIndex
			cgbPal[px] = s.Attr & 0x07
			useOBP1[px] = s.Attr&0x10 != 0
			if s.Attr&0x80 != 0 && bgci[px] != 0 {
				ci[px] = 0
				continue
			}
			ci[px] = pixel
		}
	}
	return
}
