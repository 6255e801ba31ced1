package ppu

// fetchScanline drives a tileRowFetcher across a fixed output range, filling
// out[xStart:160] with color indices and leaving pixels before xStart at 0.
// Both the BG and window renderers below are instances of this same walk:
// seek to the first tile, discard any fractional leading pixels, then pull
// one pixel at a time, refilling the FIFO by advancing a tile column
// whenever it runs dry.
func fetchScanline(mem VRAMReader, mapBase uint16, tileData8000 bool, mapY uint16, tileX uint16, fineY byte, discard int, xStart int) [160]byte {
	var out [160]byte
	if xStart >= 160 {
		return out
	}
	if xStart < 0 {
		xStart = 0
	}

	var q pixelFIFO
	f := newTileRowFetcher(mem, &q)
	tileIndexAddr := mapBase + mapY*32 + tileX
	f.seek(mapBase, tileData8000, tileIndexAddr, fineY)
	f.fetchRow()
	for i := 0; i < discard; i++ {
		_, _ = q.Pop()
	}

	for x := xStart; x < 160; x++ {
		if q.Len() == 0 {
			f.advanceCol(&mapY, &tileX)
		}
		px, _ := q.Pop()
		out[x] = px
	}
	return out
}

// RenderBGScanlineUsingFetcher renders 160 BG pixels for the given LY.
// mapBase selects the 0x9800/0x9C00 tilemap, tileData8000 the addressing
// mode, scx/scy the scroll registers.
func RenderBGScanlineUsingFetcher(mem VRAMReader, mapBase uint16, tileData8000 bool, scx, scy, ly byte) [160]byte {
	bgY := uint16(ly) + uint16(scy)
	fineY := byte(bgY & 7)
	mapY := (bgY >> 3) & 31

	startX := uint16(scx)
	tileX := (startX >> 3) & 31
	fineX := int(startX & 7)

	return fetchScanline(mem, mapBase, tileData8000, mapY, tileX, fineY, fineX, 0)
}

// RenderWindowScanlineUsingFetcher renders the window layer for a scanline.
// Pixels before wxStart (WX-7) are left at color index 0 so callers can
// blend the BG layer underneath; winLine is the vertical line within the
// window (distinct from ly, since the window has its own line counter).
func RenderWindowScanlineUsingFetcher(mem VRAMReader, mapBase uint16, tileData8000 bool, wxStart int, winLine byte) [160]byte {
	mapY := (uint16(winLine) >> 3) & 31
	fineY := winLine & 7
	return fetchScanline(mem, mapBase, tileData8000, mapY, 0, fineY, 0, wxStart)
}
