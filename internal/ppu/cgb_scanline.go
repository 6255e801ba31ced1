package ppu

// BankedVRAMReader is a VRAMReader that can also target a specific VRAM
// bank, needed to resolve CGB tile data (selectable per-tile via the BG
// attribute byte) and BG attribute maps (always bank 1).
type BankedVRAMReader interface {
	VRAMReader
	ReadBank(bank int, addr uint16) byte
}

func cgbTileRow(mem BankedVRAMReader, mapBase, attrBase uint16, mapY, tileX uint16, fineY byte, tileData8000 bool) (lo, hi, attr byte) {
	mapAddr := mapBase + mapY*32 + tileX
	tileNum := mem.ReadBank(0, mapAddr)
	attr = mem.ReadBank(1, attrBase+mapY*32+tileX)
	bank := int((attr >> 3) & 1)

	row := fineY
	if attr&0x40 != 0 { // Y-flip
		row = 7 - row
	}
	var base uint16
	if tileData8000 {
		base = 0x8000 + uint16(tileNum)*16 + uint16(row)*2
	} else {
		base = 0x9000 + uint16(int8(tileNum))*16 + uint16(row)*2
	}
	lo = mem.ReadBank(bank, base)
	hi = mem.ReadBank(bank, base+1)
	return
}

func cgbPixel(lo, hi, attr byte, col int) byte {
	bit := 7 - col
	if attr&0x20 != 0 { // X-flip
		bit = col
	}
	return ((hi>>uint(bit))&1)<<1 | ((lo >> uint(bit)) & 1)
}

// RenderBGScanlineCGB renders 160 BG pixels plus their per-pixel palette
// index and BG-priority-over-sprite flag, reading tile data from whichever
// VRAM bank each tile's attribute byte selects.
func RenderBGScanlineCGB(mem BankedVRAMReader, mapBase, attrBase uint16, tileData8000 bool, scx, scy, ly byte) (ci [160]byte, pal [160]byte, pri [160]bool) {
	bgY := uint16(ly) + uint16(scy)
	fineY := byte(bgY & 7)
	mapY := (bgY >> 3) & 31
	startX := uint16(scx)
	tileX := (startX >> 3) & 31
	col := int(startX & 7)

	lo, hi, attr := cgbTileRow(mem, mapBase, attrBase, mapY, tileX, fineY, tileData8000)
	for x := 0; x < 160; x++ {
		if col >= 8 {
			tileX = (tileX + 1) & 31
			lo, hi, attr = cgbTileRow(mem, mapBase, attrBase, mapY, tileX, fineY, tileData8000)
			col = 0
		}
		ci[x] = cgbPixel(lo, hi, attr, col)
		pal[x] = attr & 0x07
		pri[x] = attr&0x80 != 0
		col++
	}
	return
}

// RenderWindowScanlineCGB is RenderBGScanlineCGB's window-layer
// counterpart: wxStart is the first screen column the window covers
// (WX-7), winLine is the window's own internal line counter.
func RenderWindowScanlineCGB(mem BankedVRAMReader, mapBase, attrBase uint16, tileData8000 bool, wxStart int, winLine byte) (ci [160]byte, pal [160]byte, pri [160]bool) {
	if wxStart < 0 {
		wxStart = 0
	}
	mapY := (uint16(winLine) >> 3) & 31
	fineY := winLine & 7
	tileX := uint16(0)
	col := 0

	lo, hi, attr := cgbTileRow(mem, mapBase, attrBase, mapY, tileX, fineY, tileData8000)
	for x := wxStart; x < 160; x++ {
		if col >= 8 {
			tileX = (tileX + 1) & 31
			lo, hi, attr = cgbTileRow(mem, mapBase, attrBase, mapY, tileX, fineY, tileData8000)
			col = 0
		}
		ci[x] = cgbPixel(lo, hi, attr, col)
		pal[x] = attr & 0x07
		pri[x] = attr&0x80 != 0
		col++
	}
	return
}
