package ppu

// dmgShades maps a 2-bit shade (as decoded from a DMG palette register)
// to ARGB8888, lightest first.
var dmgShades = [4]uint32{0xFFFFFFFF, 0xFFAAAAAA, 0xFF555555, 0xFF000000}

func dmgPaletteColor(palette, ci byte) uint32 {
	shade := (palette >> (ci * 2)) & 0x03
	return dmgShades[shade]
}

// cgbColor decodes one BGR555 entry out of CGB palette RAM (2 bytes per
// color, 4 colors per palette) to ARGB8888.
func cgbColor(ram *[64]byte, palNum, ci byte) uint32 {
	off := int(palNum&0x07)*8 + int(ci&0x03)*2
	lo, hi := ram[off], ram[off+1]
	v := uint16(lo) | uint16(hi)<<8
	r := uint32(v & 0x1F)
	g := uint32((v >> 5) & 0x1F)
	b := uint32((v >> 10) & 0x1F)
	r8 := (r*255 + 15) / 31
	g8 := (g*255 + 15) / 31
	b8 := (b*255 + 15) / 31
	return 0xFF000000 | r8<<16 | g8<<8 | b8
}

// renderLine composites the BG, window, and sprite layers for ly into the
// frame buffer. Called once per scanline as HBlank is entered, using the
// register snapshot latched when that scanline began pixel transfer.
func (p *PPU) renderLine(ly byte) {
	if ly >= 144 {
		return
	}
	snap := p.lineSnaps[ly]

	bgMapBase := uint16(0x9800)
	if snap.LCDC&0x08 != 0 {
		bgMapBase = 0x9C00
	}
	tileData8000 := snap.LCDC&0x10 != 0

	var bgci, bgpal [160]byte
	var bgpri [160]bool

	if p.cgbMode {
		bgci, bgpal, bgpri = RenderBGScanlineCGB(p, bgMapBase, bgMapBase, tileData8000, snap.SCX, snap.SCY, ly)
	} else if snap.LCDC&0x01 != 0 {
		bgci = RenderBGScanlineUsingFetcher(p, bgMapBase, tileData8000, snap.SCX, snap.SCY, ly)
	}

	if snap.WinVisible {
		winMapBase := uint16(0x9800)
		if snap.LCDC&0x40 != 0 {
			winMapBase = 0x9C00
		}
		wxStart := int(snap.WX) - 7
		if p.cgbMode {
			wci, wpal, wpri := RenderWindowScanlineCGB(p, winMapBase, winMapBase, tileData8000, wxStart, byte(snap.WinLine))
			for x := wxStart; x < 160; x++ {
				if x < 0 {
					continue
				}
				bgci[x], bgpal[x], bgpri[x] = wci[x], wpal[x], wpri[x]
			}
		} else {
			wci := RenderWindowScanlineUsingFetcher(p, winMapBase, tileData8000, wxStart, byte(snap.WinLine))
			for x := wxStart; x < 160; x++ {
				if x < 0 {
					continue
				}
				bgci[x] = wci[x]
			}
		}
	}

	var line [160]uint32
	for x := 0; x < 160; x++ {
		if p.cgbMode {
			line[x] = cgbColor(&p.bgPalRAM, bgpal[x], bgci[x])
		} else {
			line[x] = dmgPaletteColor(snap.BGP, bgci[x])
		}
	}

	if snap.LCDC&0x02 != 0 {
		sprites := p.scanSpritesForLine(ly)
		spCi, spPal, spOBP1 := composeSpriteLineFull(p, sprites, ly, bgci, p.cgbMode)
		for x := 0; x < 160; x++ {
			if spCi[x] == 0 {
				continue
			}
			if p.cgbMode && bgpri[x] && bgci[x] != 0 {
				// CGB BG-tile priority attribute overrides every sprite,
				// including ones that don't set their own priority bit.
				continue
			}
			if p.cgbMode {
				line[x] = cgbColor(&p.objPalRAM, spPal[x], spCi[x])
			} else {
				obp := snap.OBP0
				if spOBP1[x] {
					obp = snap.OBP1
				}
				line[x] = dmgPaletteColor(obp, spCi[x])
			}
		}
	}

	copy(p.frame[int(ly)*160:int(ly)*160+160], line[:])
}
