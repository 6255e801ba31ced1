package machine

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/alloncm/gbcore-go/internal/apu"
	"github.com/alloncm/gbcore-go/internal/bus"
	"github.com/alloncm/gbcore-go/internal/cart"
	"github.com/alloncm/gbcore-go/internal/cpu"
)

// errNoCartridge is returned by operations that require an active
// cartridge/bus when none has been loaded yet.
var errNoCartridge = errors.New("machine: no cartridge loaded")

const (
	screenW = 160
	screenH = 144

	sampleRate = 48000

	// cyclesPerFrame is the number of T-cycles in one 59.7Hz DMG frame
	// (154 scanlines * 456 dots).
	cyclesPerFrame = 154 * 456
)

// Buttons is the host-pushed button state for one frame. The host polls its
// own input devices and calls SetButtons once per Update; the core never
// reaches out to read a keyboard or gamepad itself.
type Buttons struct {
	A, B, Start, Select   bool
	Up, Down, Left, Right bool
}

func (b Buttons) mask() byte {
	var m byte
	if b.Right {
		m |= bus.JoypRight
	}
	if b.Left {
		m |= bus.JoypLeft
	}
	if b.Up {
		m |= bus.JoypUp
	}
	if b.Down {
		m |= bus.JoypDown
	}
	if b.A {
		m |= bus.JoypA
	}
	if b.B {
		m |= bus.JoypB
	}
	if b.Select {
		m |= bus.JoypSelectBtn
	}
	if b.Start {
		m |= bus.JoypStart
	}
	return m
}

// Machine aggregates the CPU, bus, and APU into a single runnable console,
// and is the only surface the presentation layer and CLI front ends talk to.
type Machine struct {
	cfg Config

	bus      *bus.Bus
	cpuCore  *cpu.CPU
	apuCore  *apu.APU
	cartData []byte // raw ROM bytes, retained so Reset* can rebuild from scratch

	bootROM      []byte
	serialWriter io.Writer

	header   *cart.Header
	romPath  string
	romTitle string

	cgbActive bool // PPU currently rendering in CGB mode

	compatPaletteID int

	fb []byte // RGBA8888, screenW*screenH*4

	log *logrus.Logger
}

// New allocates a Machine with no cartridge loaded yet.
func New(cfg Config) *Machine {
	m := &Machine{
		cfg:     cfg,
		apuCore: apu.New(sampleRate),
		fb:      make([]byte, screenW*screenH*4),
		log:     cfg.logger(),
	}
	return m
}

// SetBootROM stashes a boot ROM image to be mapped at reset time. It may be
// called before or after a cartridge is loaded.
func (m *Machine) SetBootROM(data []byte) {
	if len(data) >= 0x100 {
		m.bootROM = append([]byte(nil), data...)
	} else {
		m.bootROM = nil
	}
	if m.bus != nil {
		m.bus.SetBootROM(m.bootROM)
	}
}

// SetSerialWriter directs link-cable byte output (as used by test ROMs that
// report pass/fail over serial) to w.
func (m *Machine) SetSerialWriter(w io.Writer) {
	m.serialWriter = w
	if m.bus != nil {
		m.bus.SetSerialWriter(w)
	}
}

// LoadCartridge parses rom, builds a fresh bus/cart/cpu around it, and resets
// to a running state: straight into the boot ROM at 0x0000 if one is
// supplied (directly or previously via SetBootROM), else to typical DMG
// post-boot register/IO defaults at 0x0100.
func (m *Machine) LoadCartridge(rom []byte, boot []byte) error {
	h, err := cart.ParseHeader(rom)
	if err != nil {
		m.log.WithError(err).Error("machine: refusing to construct, invalid cartridge header")
		return err
	}
	if !cart.SupportedCartType(h.CartType) {
		err := fmt.Errorf("machine: unsupported cartridge type 0x%02X (%s)", h.CartType, h.CartTypeStr)
		m.log.WithField("type", h.CartTypeStr).Error("machine: refusing to construct, unsupported MBC")
		return err
	}
	m.header = h
	m.romTitle = strings.TrimRight(h.Title, "\x00")
	m.cartData = append([]byte(nil), rom...)
	if len(boot) >= 0x100 {
		m.bootROM = append([]byte(nil), boot...)
	}

	m.rebuildCore(len(m.bootROM) >= 0x100)
	m.cgbActive = h.CGBFlag&0x80 != 0
	m.bus.PPU().SetCGBMode(m.cgbActive)

	if id, ok := autoCompatPaletteFromHeader(h); ok {
		m.compatPaletteID = id
	}
	m.applyCompatPalette()
	m.log.WithFields(logrus.Fields{
		"title": m.romTitle,
		"mbc":   h.CartTypeStr,
		"cgb":   m.cgbActive,
		"boot":  len(m.bootROM) >= 0x100,
	}).Info("machine: cartridge loaded")
	return nil
}

// rebuildCore constructs a new bus, cartridge instance, and CPU from the
// retained ROM bytes, wiring in the shared APU and serial writer. useBoot
// maps the boot ROM at 0x0000 instead of jumping straight to 0x0100.
func (m *Machine) rebuildCore(useBoot bool) {
	c := cart.NewCartridge(m.cartData)
	b := bus.NewWithCartridge(c)
	b.AttachAPU(m.apuCore)
	if m.serialWriter != nil {
		b.SetSerialWriter(m.serialWriter)
	}
	m.bus = b
	m.cpuCore = cpu.New(b)

	if useBoot {
		b.SetBootROM(m.bootROM)
		// cpu.New already starts at PC=0x0000/SP=0xFFFE/IME=false, matching
		// the state real hardware hands to the boot ROM.
	} else {
		m.cpuCore.ResetNoBoot()
		m.cpuCore.SetPC(0x0100)
		m.applyPostBootIODefaults()
	}
}

// applyPostBootIODefaults pokes the IO register values the DMG boot ROM
// leaves behind, for the no-boot-ROM startup path.
func (m *Machine) applyPostBootIODefaults() {
	b := m.bus
	b.Write(0xFF00, 0xCF)
	b.Write(0xFF05, 0x00) // TIMA
	b.Write(0xFF06, 0x00) // TMA
	b.Write(0xFF07, 0x00) // TAC
	b.Write(0xFF40, 0x91) // LCDC on, BG+sprites
	b.Write(0xFF42, 0x00) // SCY
	b.Write(0xFF43, 0x00) // SCX
	b.Write(0xFF45, 0x00) // LYC
	b.Write(0xFF47, 0xFC) // BGP
	b.Write(0xFF48, 0xFF) // OBP0
	b.Write(0xFF49, 0xFF) // OBP1
	b.Write(0xFF4A, 0x00) // WY
	b.Write(0xFF4B, 0x00) // WX
	b.Write(0xFFFF, 0x00) // IE
}

// LoadROMFromFile reads path and loads it as the active cartridge, carrying
// over whatever boot ROM is already configured. It also records the path so
// ROMPath/ROMTitle and battery/save-state file derivation work.
func (m *Machine) LoadROMFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := m.LoadCartridge(data, m.bootROM); err != nil {
		return err
	}
	m.romPath = path
	return nil
}

// ROMPath returns the path LoadROMFromFile most recently loaded, or "".
func (m *Machine) ROMPath() string { return m.romPath }

// ROMTitle returns the cartridge header title, or "" if none is loaded.
func (m *Machine) ROMTitle() string { return m.romTitle }

// LoadBattery restores cartridge RAM from a prior save, if the cartridge is
// battery-backed. Returns false if there is nothing to load into.
func (m *Machine) LoadBattery(data []byte) bool {
	if m.bus == nil {
		return false
	}
	bb, ok := m.bus.Cart().(cart.BatteryBacked)
	if !ok {
		return false
	}
	bb.LoadRAM(data)
	return true
}

// SaveBattery returns a copy of cartridge RAM for persistence, if the
// cartridge is battery-backed.
func (m *Machine) SaveBattery() ([]byte, bool) {
	if m.bus == nil {
		return nil, false
	}
	bb, ok := m.bus.Cart().(cart.BatteryBacked)
	if !ok {
		return nil, false
	}
	return bb.SaveRAM(), true
}

// SetButtons replaces the host-visible button state for the next Step/Frame
// calls. The core polls this snapshot rather than any input device itself.
func (m *Machine) SetButtons(b Buttons) {
	if m.bus != nil {
		m.bus.SetJoypadState(b.mask())
	}
}

// SetUseFetcherBG toggles whether the BG layer renders through the
// fetcher/FIFO pixel pipeline. The PPU only implements that one pixel path
// today, so this is a passthrough kept for presentation-layer compatibility;
// it does not yet select between two renderers.
func (m *Machine) SetUseFetcherBG(on bool) { m.cfg.UseFetcherBG = on }

// StepFrame runs the core for one video frame and renders the result into
// the framebuffer.
func (m *Machine) StepFrame() {
	m.runFrame()
	m.renderFramebuffer()
}

// StepFrameNoRender runs the core for one video frame without paying the
// cost of converting the PPU's frame buffer to host pixels; used by
// headless test-ROM runners that only care about serial output.
func (m *Machine) StepFrameNoRender() {
	m.runFrame()
}

func (m *Machine) runFrame() {
	if m.cpuCore == nil {
		return
	}
	spent := 0
	for spent < cyclesPerFrame {
		spent += m.cpuCore.Step()
	}
}

// renderFramebuffer converts the PPU's packed ARGB8888 frame into the
// RGBA8888 byte order ebiten's Image.WritePixels expects.
func (m *Machine) renderFramebuffer() {
	if m.bus == nil {
		return
	}
	frame := m.bus.PPU().Frame()
	for i, px := range frame {
		o := i * 4
		m.fb[o+0] = byte(px >> 16) // R
		m.fb[o+1] = byte(px >> 8)  // G
		m.fb[o+2] = byte(px)       // B
		m.fb[o+3] = byte(px >> 24) // A
	}
}

// Framebuffer returns the RGBA8888 pixels of the most recently rendered
// frame, screenW*screenH*4 bytes.
func (m *Machine) Framebuffer() []byte { return m.fb }

// ResetPostBoot restarts the current cartridge straight to 0x0100 with
// typical DMG post-boot register/IO defaults, skipping any boot ROM.
func (m *Machine) ResetPostBoot() {
	if len(m.cartData) == 0 {
		return
	}
	m.rebuildCore(false)
	m.bus.PPU().SetCGBMode(m.cgbActive)
	m.applyCompatPalette()
}

// ResetWithBoot restarts the current cartridge through the configured boot
// ROM, if any; otherwise it behaves like ResetPostBoot.
func (m *Machine) ResetWithBoot() {
	if len(m.cartData) == 0 {
		return
	}
	m.rebuildCore(len(m.bootROM) >= 0x100)
	m.bus.PPU().SetCGBMode(m.cgbActive)
	m.applyCompatPalette()
}

// ResetCGBPostBoot restarts the current cartridge with the CGB hardware's
// post-boot register file (distinct from the DMG's) and switches CGB
// rendering on or off per useCGB.
func (m *Machine) ResetCGBPostBoot(useCGB bool) {
	if len(m.cartData) == 0 {
		return
	}
	m.rebuildCore(false)
	m.SetUseCGBBG(useCGB)
	if useCGB {
		c := m.cpuCore
		c.A, c.F = 0x11, 0x80
		c.B, c.C = 0x00, 0x00
		c.D, c.E = 0xFF, 0x56
		c.H, c.L = 0x00, 0x0D
		c.SetPC(0x0100)
	}
	m.applyCompatPalette()
}

// WantCGBColors reports whether CGB color rendering is the currently
// selected mode for the loaded cartridge.
func (m *Machine) WantCGBColors() bool { return m.cgbActive }

// UseCGBBG reports whether the PPU is presently rendering in CGB mode.
func (m *Machine) UseCGBBG() bool { return m.cgbActive }

// SetUseCGBBG switches CGB-mode rendering on or off for the running PPU.
func (m *Machine) SetUseCGBBG(on bool) {
	m.cgbActive = on
	if m.bus != nil {
		m.bus.PPU().SetCGBMode(on)
	}
}

// IsCGBCompat reports whether the loaded cartridge is a DMG-only title being
// run under CGB colorization rather than a native CGB/CGB-enhanced game.
func (m *Machine) IsCGBCompat() bool {
	return m.header != nil && m.header.CGBFlag&0x80 == 0
}

// SaveStateToFile writes a combined CPU+bus+APU snapshot to path.
func (m *Machine) SaveStateToFile(path string) error {
	if m.bus == nil || m.cpuCore == nil {
		return errNoCartridge
	}
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	if err := enc.Encode(m.cpuCore.SaveState()); err != nil {
		return err
	}
	if err := enc.Encode(m.bus.SaveState()); err != nil {
		return err
	}
	if err := enc.Encode(m.apuCore.SaveState()); err != nil {
		return err
	}
	if err := enc.Encode(m.cgbActive); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0644)
}

// LoadStateFromFile restores a snapshot written by SaveStateToFile.
func (m *Machine) LoadStateFromFile(path string) error {
	if m.bus == nil || m.cpuCore == nil {
		return errNoCartridge
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	dec := gob.NewDecoder(bytes.NewReader(data))
	var cpuBytes, busBytes, apuBytes []byte
	if err := dec.Decode(&cpuBytes); err != nil {
		return err
	}
	if err := dec.Decode(&busBytes); err != nil {
		return err
	}
	if err := dec.Decode(&apuBytes); err != nil {
		return err
	}
	var cgb bool
	if err := dec.Decode(&cgb); err != nil {
		return err
	}
	m.cpuCore.LoadState(cpuBytes)
	m.bus.LoadState(busBytes)
	m.apuCore.LoadState(apuBytes)
	m.SetUseCGBBG(cgb)
	return nil
}

// APUBufferedStereo reports how many stereo sample pairs are currently
// buffered and ready to pull.
func (m *Machine) APUBufferedStereo() int { return m.apuCore.StereoAvailable() }

// APUPullStereo drains up to max interleaved (L,R) int16 sample pairs.
func (m *Machine) APUPullStereo(max int) []int16 { return m.apuCore.PullStereo(max) }

// APUCapBufferedStereo discards the oldest buffered samples so that no more
// than max stereo frames remain queued, bounding audio latency.
func (m *Machine) APUCapBufferedStereo(max int) {
	if avail := m.apuCore.StereoAvailable(); avail > max {
		m.apuCore.PullStereo(avail - max)
	}
}

// APUClearAudioLatency drops all currently buffered audio.
func (m *Machine) APUClearAudioLatency() {
	for {
		avail := m.apuCore.StereoAvailable()
		if avail <= 0 {
			return
		}
		m.apuCore.PullStereo(avail)
	}
}
