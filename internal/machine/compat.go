package machine

// Compat palettes recolor a DMG-only cartridge's single BG/OBJ0/OBJ1 4-shade
// ramps the way the CGB's "colorize classic games" boot feature does: the
// CPU never learns about this, the PPU's normal CGB palette-RAM path (BG
// palette 0, OBJ palettes 0/1) is simply pre-loaded with these colors before
// the frame is rendered. This is a curated approximation, not a dump of real
// CGB boot-ROM palette data; see DESIGN.md.

type compatPaletteSet struct {
	name string
	bg   [4]uint16 // BGR555, lightest to darkest
	obj0 [4]uint16
	obj1 [4]uint16
}

func bgr555(r, g, b byte) uint16 {
	return uint16(r&0x1F) | uint16(g&0x1F)<<5 | uint16(b&0x1F)<<10
}

// cgbCompatSets holds the curated BG/OBJ color ramps, indexed by the IDs
// used throughout compat_tables.go.
var cgbCompatSets = []compatPaletteSet{
	{ // 0: Green, Zelda-style
		name: "Green",
		bg:   [4]uint16{bgr555(27, 31, 18), bgr555(16, 26, 12), bgr555(8, 17, 9), bgr555(2, 6, 2)},
		obj0: [4]uint16{bgr555(31, 31, 31), bgr555(22, 17, 6), bgr555(14, 9, 3), bgr555(3, 2, 1)},
		obj1: [4]uint16{bgr555(31, 31, 31), bgr555(12, 20, 31), bgr555(6, 10, 20), bgr555(1, 2, 5)},
	},
	{ // 1: Sepia, Donkey Kong / Wario-style
		name: "Sepia",
		bg:   [4]uint16{bgr555(31, 29, 22), bgr555(26, 20, 12), bgr555(17, 12, 6), bgr555(7, 4, 2)},
		obj0: [4]uint16{bgr555(31, 31, 28), bgr555(24, 16, 6), bgr555(13, 7, 2), bgr555(4, 2, 1)},
		obj1: [4]uint16{bgr555(31, 31, 28), bgr555(20, 13, 20), bgr555(11, 6, 11), bgr555(3, 1, 3)},
	},
	{ // 2: Blue, Tetris/Mega Man-style
		name: "Blue",
		bg:   [4]uint16{bgr555(24, 29, 31), bgr555(12, 20, 29), bgr555(5, 10, 20), bgr555(1, 3, 8)},
		obj0: [4]uint16{bgr555(31, 31, 31), bgr555(28, 20, 6), bgr555(18, 11, 3), bgr555(5, 3, 1)},
		obj1: [4]uint16{bgr555(31, 31, 31), bgr555(20, 28, 10), bgr555(10, 17, 5), bgr555(2, 6, 1)},
	},
	{ // 3: Red, Mario/Metroid-style
		name: "Red",
		bg:   [4]uint16{bgr555(31, 26, 22), bgr555(29, 14, 10), bgr555(19, 5, 4), bgr555(7, 1, 1)},
		obj0: [4]uint16{bgr555(31, 31, 31), bgr555(8, 13, 28), bgr555(3, 6, 17), bgr555(1, 2, 5)},
		obj1: [4]uint16{bgr555(31, 31, 31), bgr555(28, 24, 6), bgr555(18, 14, 3), bgr555(5, 4, 1)},
	},
	{ // 4: Pastel, Kirby/Pokemon-style
		name: "Pastel",
		bg:   [4]uint16{bgr555(31, 30, 26), bgr555(27, 21, 31), bgr555(17, 24, 29), bgr555(9, 11, 15)},
		obj0: [4]uint16{bgr555(31, 31, 31), bgr555(31, 18, 22), bgr555(21, 10, 14), bgr555(6, 3, 4)},
		obj1: [4]uint16{bgr555(31, 31, 31), bgr555(18, 26, 18), bgr555(10, 17, 10), bgr555(2, 6, 2)},
	},
	{ // 5: Grayscale, matches the plain DMG shade ramp
		name: "Grayscale",
		bg:   [4]uint16{bgr555(31, 31, 31), bgr555(21, 21, 21), bgr555(10, 10, 10), bgr555(0, 0, 0)},
		obj0: [4]uint16{bgr555(31, 31, 31), bgr555(21, 21, 21), bgr555(10, 10, 10), bgr555(0, 0, 0)},
		obj1: [4]uint16{bgr555(31, 31, 31), bgr555(21, 21, 21), bgr555(10, 10, 10), bgr555(0, 0, 0)},
	},
}

var cgbCompatSetNames = func() []string {
	names := make([]string, len(cgbCompatSets))
	for i, s := range cgbCompatSets {
		names[i] = s.name
	}
	return names
}()

// applyCompatPalette pushes the current compat palette's colors into CGB BG
// palette 0 and OBJ palettes 0/1 via the PPU's normal palette-RAM write
// path, the same way a game's own CGB palette writes would land.
func (m *Machine) applyCompatPalette() {
	if m.bus == nil {
		return
	}
	id := m.compatPaletteID
	if id < 0 || id >= len(cgbCompatSets) {
		id = 0
	}
	set := cgbCompatSets[id]
	p := m.bus.PPU()

	writeRamp := func(selAddr, dataAddr uint16, startIndex byte, colors [4]uint16) {
		p.CPUWrite(selAddr, 0x80|startIndex)
		for _, c := range colors {
			p.CPUWrite(dataAddr, byte(c))
			p.CPUWrite(dataAddr, byte(c>>8))
		}
	}
	writeRamp(0xFF68, 0xFF69, 0, set.bg)
	writeRamp(0xFF6A, 0xFF6B, 0, set.obj0)
	writeRamp(0xFF6A, 0xFF6B, 8, set.obj1)
}

// CurrentCompatPalette returns the active compat palette ID.
func (m *Machine) CurrentCompatPalette() int { return m.compatPaletteID }

// CompatPaletteName returns the display name for a compat palette ID, or
// "" if out of range.
func (m *Machine) CompatPaletteName(id int) string {
	if id < 0 || id >= len(cgbCompatSetNames) {
		return ""
	}
	return cgbCompatSetNames[id]
}

// SetCompatPalette selects a compat palette by ID and, if a cartridge is
// loaded, applies it immediately.
func (m *Machine) SetCompatPalette(id int) {
	if id < 0 || id >= len(cgbCompatSets) {
		return
	}
	m.compatPaletteID = id
	m.applyCompatPalette()
}

// CycleCompatPalette advances the active compat palette by dir (typically
// +1 or -1), wrapping around, and applies it.
func (m *Machine) CycleCompatPalette(dir int) {
	n := len(cgbCompatSets)
	id := ((m.compatPaletteID+dir)%n + n) % n
	m.SetCompatPalette(id)
}
