package apu

import (
	"bytes"
	"encoding/gob"
)

// CPU frequency in Hz (DMG)
const cpuHz = 4194304

// gbFrameHz is the DMG's real per-frame rate (70224 T-cycles / 4194304 Hz).
const gbFrameHz = float64(cpuHz) / 70224.0

// stereoBufferFrames is how many video frames of host-rate stereo samples
// the ring buffer holds before PullStereo must drain it. The presentation
// layer's audio stream pulls whenever the audio player asks it for data
// (§6 audio device contract); this gives it slack against scheduling
// jitter without growing unboundedly.
const stereoBufferFrames = 4

// APU is a DMG/CGB audio unit: channels 1-4, a 512 Hz frame sequencer, and
// NR50/NR51 stereo mixing down to a pull-based host-rate ring buffer.
type APU struct {
	enabled bool

	// sample generation
	sampleRate      int
	cyclesPerSample float64
	cycAccum        float64
	mixGain         float64

	// frame sequencer (512 Hz)
	fsCounter int // cycles until next step
	fsStep    int // 0..7

	// stereo output ring buffer, capacity a power of two
	sL    []int16
	sR    []int16
	sHead int
	sTail int

	nr50 byte // 0xFF24 master volume / VIN routing
	nr51 byte // 0xFF25 channel-to-terminal routing

	ch1 chSquare // NR10..NR14, sweep + envelope
	ch2 chSquare // NR21..NR24, envelope only (sweep fields unused)
	ch3 chWave   // NR30..NR34
	ch4 chNoise  // NR41..NR44
}

type chSquare struct {
	enabled bool
	dacOn   bool // top 5 bits of the envelope register are nonzero
	duty    byte // 0..3
	length  int  // 0..64 (a write loads 64 minus the written value)
	lenEn   bool // length enable
	vol     byte // 0..15 initial volume
	envDir  int8 // +1/-1
	envPer  byte // 0..7 (0 means 8)
	curVol  byte // current envelope volume
	envTmr  byte // envelope timer
	freq    uint16
	timer   int // frequency timer in CPU cycles
	phase   int // 0..7 index into duty pattern

	// Sweep (CH1 only; CH2 leaves these at zero)
	sweepPer    byte
	sweepNeg    bool
	sweepShift  byte
	sweepTmr    byte
	sweepEn     bool
	sweepShadow uint16
}

type chWave struct {
	enabled bool
	dacEn   bool
	length  int // 0..256 (a write loads 256 minus the written value)
	lenEn   bool
	volCode byte // 0..3 (0 mute, 1:100%, 2:50%, 3:25%)
	freq    uint16
	timer   int
	pos     int      // 0..31
	ram     [16]byte // FF30..FF3F (32 samples, 4-bit each)
}

type chNoise struct {
	enabled bool
	dacOn   bool
	length  int
	lenEn   bool
	vol     byte
	envDir  int8
	envPer  byte
	curVol  byte
	envTmr  byte
	// NR43
	shift  byte // 0..15 shift clock frequency
	width7 bool // true for 7-bit LFSR; false for 15-bit
	divSel byte // 0..7 dividing ratio code
	timer  int
	lfsr   uint16 // 15-bit LFSR; bit0 is output
}

var dutyTable = [4][8]byte{
	// 12.5%, 25%, 50%, 75% (pan docs pattern)
	{0, 0, 0, 0, 0, 0, 0, 1},
	{1, 0, 0, 0, 0, 0, 0, 1},
	{1, 0, 0, 0, 0, 1, 1, 1},
	{0, 1, 1, 1, 1, 1, 1, 0},
}

func New(sampleRate int) *APU {
	if sampleRate <= 0 {
		sampleRate = 48000
	}
	cap := nextPow2(int(float64(sampleRate)/gbFrameHz) * stereoBufferFrames)
	a := &APU{
		enabled:         true,
		sampleRate:      sampleRate,
		cyclesPerSample: float64(cpuHz) / float64(sampleRate),
		mixGain:         0.20, // headroom to avoid clipping when all 4 channels sum in phase
		fsCounter:       cpuHz / 512,
		sL:              make([]int16, cap),
		sR:              make([]int16, cap),
	}
	// Route all channels to both terminals at max master volume by default.
	a.nr50 = 0x77
	a.nr51 = 0xFF
	return a
}

func nextPow2(n int) int {
	if n < 64 {
		n = 64
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// CPURead reads an APU register.
func (a *APU) CPURead(addr uint16) byte {
	switch addr {
	case 0xFF10: // NR10 sweep (CH1)
		n := (a.ch1.sweepPer & 7) << 4
		if a.ch1.sweepNeg {
			n |= 1 << 3
		}
		n |= a.ch1.sweepShift & 7
		return 0x80 | n
	case 0xFF11: // NR11 duty/length (CH1)
		return (a.ch1.duty << 6) | byte(0x3F-(a.ch1.length&0x3F))
	case 0xFF12: // NR12 envelope (CH1)
		return envelopeRegister(a.ch1.vol, a.ch1.envDir, a.ch1.envPer)
	case 0xFF13: // NR13 freq lo (CH1)
		return byte(a.ch1.freq & 0xFF)
	case 0xFF14: // NR14 (CH1)
		return (boolToByte(a.ch1.lenEn) << 6) | byte((a.ch1.freq>>8)&7)
	case 0xFF16: // NR21 duty/length
		return (a.ch2.duty << 6) | byte(0x3F-(a.ch2.length&0x3F))
	case 0xFF17: // NR22 envelope
		return envelopeRegister(a.ch2.vol, a.ch2.envDir, a.ch2.envPer)
	case 0xFF18: // NR23 freq lo
		return byte(a.ch2.freq & 0xFF)
	case 0xFF19: // NR24
		return (boolToByte(a.ch2.lenEn) << 6) | byte((a.ch2.freq>>8)&7)
	case 0xFF1A: // NR30 (CH3 DAC)
		if a.ch3.dacEn {
			return 0x80
		}
		return 0x00
	case 0xFF1B: // NR31 length (CH3)
		return byte(0xFF - (a.ch3.length & 0xFF))
	case 0xFF1C: // NR32 volume (CH3)
		return (a.ch3.volCode << 5) | 0x9F
	case 0xFF1D: // NR33 freq lo (CH3)
		return byte(a.ch3.freq & 0xFF)
	case 0xFF1E: // NR34 (CH3)
		return (boolToByte(a.ch3.lenEn) << 6) | byte((a.ch3.freq>>8)&7)
	case 0xFF30, 0xFF31, 0xFF32, 0xFF33, 0xFF34, 0xFF35, 0xFF36, 0xFF37,
		0xFF38, 0xFF39, 0xFF3A, 0xFF3B, 0xFF3C, 0xFF3D, 0xFF3E, 0xFF3F:
		return a.ch3.ram[addr-0xFF30]
	case 0xFF20: // NR41 length (CH4)
		return byte(0x3F - (a.ch4.length & 0x3F))
	case 0xFF21: // NR42 envelope (CH4)
		return envelopeRegister(a.ch4.vol, a.ch4.envDir, a.ch4.envPer)
	case 0xFF22: // NR43 poly counter (CH4)
		w := byte(0)
		if a.ch4.width7 {
			w = 1
		}
		return (a.ch4.shift << 4) | (w << 3) | (a.ch4.divSel & 7)
	case 0xFF23: // NR44 (CH4)
		return boolToByte(a.ch4.lenEn) << 6
	case 0xFF24:
		return a.nr50
	case 0xFF25:
		return a.nr51
	case 0xFF26:
		chFlags := byte(0)
		if a.ch1.enabled {
			chFlags |= 1 << 0
		}
		if a.ch2.enabled {
			chFlags |= 1 << 1
		}
		if a.ch3.enabled {
			chFlags |= 1 << 2
		}
		if a.ch4.enabled {
			chFlags |= 1 << 3
		}
		return 0x70 | (boolToByte(a.enabled) << 7) | chFlags
	default:
		return 0xFF
	}
}

// envelopeRegister reassembles an NRx2-style envelope byte from the
// decomposed vol/direction/period fields CPURead needs to read back.
func envelopeRegister(vol byte, dir int8, per byte) byte {
	d := byte(0)
	if dir > 0 {
		d = 1
	}
	return (vol << 4) | (d << 3) | (per & 7)
}

// CPUWrite writes an APU register.
func (a *APU) CPUWrite(addr uint16, v byte) {
	switch addr {
	case 0xFF10: // NR10 (CH1 sweep)
		a.ch1.sweepPer = (v >> 4) & 7
		a.ch1.sweepNeg = (v & (1 << 3)) != 0
		a.ch1.sweepShift = v & 7
	case 0xFF11: // NR11 (CH1 duty/length)
		a.ch1.duty = (v >> 6) & 3
		a.ch1.length = 64 - int(v&0x3F)
	case 0xFF12: // NR12 (CH1 envelope)
		a.ch1.vol = (v >> 4) & 0x0F
		a.ch1.envDir = envelopeDir(v)
		a.ch1.envPer = v & 7
		a.ch1.dacOn = (v & 0xF8) != 0
		if !a.ch1.dacOn {
			a.ch1.enabled = false
		}
	case 0xFF13: // NR13 (CH1 freq lo)
		a.ch1.freq = (a.ch1.freq & 0x0700) | uint16(v)
		a.reloadCh1Timer()
	case 0xFF14: // NR14 (CH1)
		a.ch1.lenEn = (v & (1 << 6)) != 0
		a.ch1.freq = (a.ch1.freq & 0x00FF) | (uint16(v&7) << 8)
		if (v & (1 << 7)) != 0 {
			a.triggerCh1()
		}
	case 0xFF16: // NR21 duty/length
		a.ch2.duty = (v >> 6) & 3
		a.ch2.length = 64 - int(v&0x3F)
	case 0xFF17: // NR22 envelope
		a.ch2.vol = (v >> 4) & 0x0F
		a.ch2.envDir = envelopeDir(v)
		a.ch2.envPer = v & 7
		a.ch2.dacOn = (v & 0xF8) != 0
		if !a.ch2.dacOn {
			a.ch2.enabled = false
		}
	case 0xFF18: // NR23
		a.ch2.freq = (a.ch2.freq & 0x0700) | uint16(v)
		a.reloadCh2Timer()
	case 0xFF19: // NR24
		a.ch2.lenEn = (v & (1 << 6)) != 0
		a.ch2.freq = (a.ch2.freq & 0x00FF) | (uint16(v&7) << 8)
		if (v & (1 << 7)) != 0 {
			a.triggerCh2()
		}
	case 0xFF1A: // NR30 (CH3 DAC)
		a.ch3.dacEn = (v & 0x80) != 0
		if !a.ch3.dacEn {
			a.ch3.enabled = false
		}
	case 0xFF1B: // NR31 (CH3 length)
		a.ch3.length = 256 - int(v)
	case 0xFF1C: // NR32 (CH3 volume)
		a.ch3.volCode = (v >> 5) & 3
	case 0xFF1D: // NR33 (CH3 freq lo)
		a.ch3.freq = (a.ch3.freq & 0x0700) | uint16(v)
		a.reloadCh3Timer()
	case 0xFF1E: // NR34 (CH3)
		a.ch3.lenEn = (v & (1 << 6)) != 0
		a.ch3.freq = (a.ch3.freq & 0x00FF) | (uint16(v&7) << 8)
		if (v & (1 << 7)) != 0 {
			a.triggerCh3()
		}
	case 0xFF30, 0xFF31, 0xFF32, 0xFF33, 0xFF34, 0xFF35, 0xFF36, 0xFF37,
		0xFF38, 0xFF39, 0xFF3A, 0xFF3B, 0xFF3C, 0xFF3D, 0xFF3E, 0xFF3F:
		a.ch3.ram[addr-0xFF30] = v
	case 0xFF24:
		a.nr50 = v
	case 0xFF25:
		a.nr51 = v
	case 0xFF26:
		if (v & (1 << 7)) == 0 {
			// Power off clears all register/channel state but the host
			// sample rate and ring buffer capacity survive the cycle.
			rate := a.sampleRate
			*a = *New(rate)
			a.enabled = false
		} else {
			a.enabled = true
		}
	case 0xFF20: // NR41 (CH4 length)
		a.ch4.length = 64 - int(v&0x3F)
	case 0xFF21: // NR42 (CH4 envelope)
		a.ch4.vol = (v >> 4) & 0x0F
		a.ch4.envDir = envelopeDir(v)
		a.ch4.envPer = v & 7
		a.ch4.dacOn = (v & 0xF8) != 0
		if !a.ch4.dacOn {
			a.ch4.enabled = false
		}
	case 0xFF22: // NR43 (CH4 polynomial)
		a.ch4.shift = (v >> 4) & 0x0F
		a.ch4.width7 = (v & (1 << 3)) != 0
		a.ch4.divSel = v & 7
		a.reloadCh4Timer()
	case 0xFF23: // NR44 (CH4)
		a.ch4.lenEn = (v & (1 << 6)) != 0
		if (v & (1 << 7)) != 0 {
			a.triggerCh4()
		}
	}
}

func envelopeDir(nrX2 byte) int8 {
	if nrX2&(1<<3) != 0 {
		return 1
	}
	return -1
}

func (a *APU) triggerCh1() {
	a.ch1.enabled = a.ch1.dacOn
	if a.ch1.length == 0 {
		a.ch1.length = 64
	}
	a.ch1.phase = 0
	a.reloadCh1Timer()
	a.ch1.curVol = a.ch1.vol
	per := a.ch1.envPer
	if per == 0 {
		per = 8
	}
	a.ch1.envTmr = per
	a.ch1.sweepShadow = a.ch1.freq & 0x7FF
	a.ch1.sweepEn = a.ch1.sweepPer != 0 || a.ch1.sweepShift != 0
	st := a.ch1.sweepPer
	if st == 0 {
		st = 8
	}
	a.ch1.sweepTmr = st
	if a.ch1.sweepShift != 0 && a.calcCh1Sweep() > 2047 {
		a.ch1.enabled = false
	}
}

func (a *APU) triggerCh2() {
	a.ch2.enabled = a.ch2.dacOn
	if !a.ch2.enabled {
		return
	}
	if a.ch2.length == 0 {
		a.ch2.length = 64
	}
	a.ch2.phase = 0
	a.reloadCh2Timer()
	a.ch2.curVol = a.ch2.vol
	per := a.ch2.envPer
	if per == 0 {
		per = 8
	}
	a.ch2.envTmr = per
}

func (a *APU) reloadCh1Timer() { a.ch1.timer = squarePeriod(a.ch1.freq) }
func (a *APU) reloadCh2Timer() { a.ch2.timer = squarePeriod(a.ch2.freq) }

func squarePeriod(freq uint16) int {
	period := int(4 * (2048 - (freq & 0x7FF)))
	if period < 8 {
		period = 8
	}
	return period
}

func (a *APU) reloadCh3Timer() {
	period := int(2 * (2048 - (a.ch3.freq & 0x7FF)))
	if period < 2 {
		period = 2
	}
	a.ch3.timer = period
}

func (a *APU) triggerCh3() {
	a.ch3.enabled = a.ch3.dacEn
	if a.ch3.length == 0 {
		a.ch3.length = 256
	}
	a.ch3.pos = 0
	a.reloadCh3Timer()
}

func (a *APU) triggerCh4() {
	a.ch4.enabled = a.ch4.dacOn
	if a.ch4.length == 0 {
		a.ch4.length = 64
	}
	a.ch4.curVol = a.ch4.vol
	per := a.ch4.envPer
	if per == 0 {
		per = 8
	}
	a.ch4.envTmr = per
	a.ch4.lfsr = 0x7FFF
	a.reloadCh4Timer()
}

var noiseDivisorTable = [8]int{8, 16, 32, 48, 64, 80, 96, 112}

func (a *APU) reloadCh4Timer() {
	div := noiseDivisorTable[a.ch4.divSel&7]
	period := div << a.ch4.shift
	if period < 2 {
		period = 2
	}
	a.ch4.timer = period
}

// Tick advances the APU by the given number of T-cycles, clocking the frame
// sequencer and every channel's frequency timer, and pushes host-rate
// stereo samples into the ring buffer when due.
func (a *APU) Tick(cycles int) {
	if cycles <= 0 || !a.enabled {
		return
	}
	for i := 0; i < cycles; i++ {
		a.tickFrameSequencer()
		a.tickChannelTimers()

		a.cycAccum++
		for a.cycAccum >= a.cyclesPerSample {
			a.cycAccum -= a.cyclesPerSample
			l, r := a.mixSampleStereo()
			a.pushStereo(l, r)
		}
	}
}

func (a *APU) tickFrameSequencer() {
	a.fsCounter--
	if a.fsCounter > 0 {
		return
	}
	a.fsCounter += cpuHz / 512
	// {length, -, length+sweep, -, length, -, length+sweep, envelope}
	if a.fsStep%2 == 0 {
		a.clockLength()
	}
	if a.fsStep == 2 || a.fsStep == 6 {
		a.clockSweep()
	}
	if a.fsStep == 7 {
		a.clockEnvelope()
	}
	a.fsStep = (a.fsStep + 1) & 7
}

func (a *APU) tickChannelTimers() {
	if a.ch1.enabled {
		a.ch1.timer--
		if a.ch1.timer <= 0 {
			a.reloadCh1Timer()
			a.ch1.phase = (a.ch1.phase + 1) & 7
		}
	}
	if a.ch2.enabled {
		a.ch2.timer--
		if a.ch2.timer <= 0 {
			a.reloadCh2Timer()
			a.ch2.phase = (a.ch2.phase + 1) & 7
		}
	}
	if a.ch3.enabled {
		a.ch3.timer--
		if a.ch3.timer <= 0 {
			a.reloadCh3Timer()
			a.ch3.pos = (a.ch3.pos + 1) & 31
		}
	}
	if a.ch4.enabled {
		a.ch4.timer--
		if a.ch4.timer <= 0 {
			a.reloadCh4Timer()
			x := (a.ch4.lfsr ^ (a.ch4.lfsr >> 1)) & 1
			a.ch4.lfsr >>= 1
			a.ch4.lfsr |= x << 14
			if a.ch4.width7 {
				a.ch4.lfsr &^= 1 << 6
				a.ch4.lfsr |= x << 6
			}
		}
	}
}

func (a *APU) clockLength() {
	clockOne := func(lenEn bool, length *int, enabled *bool) {
		if lenEn && *length > 0 {
			*length--
			if *length <= 0 {
				*enabled = false
			}
		}
	}
	clockOne(a.ch1.lenEn, &a.ch1.length, &a.ch1.enabled)
	clockOne(a.ch2.lenEn, &a.ch2.length, &a.ch2.enabled)
	clockOne(a.ch3.lenEn, &a.ch3.length, &a.ch3.enabled)
	clockOne(a.ch4.lenEn, &a.ch4.length, &a.ch4.enabled)
}

func (a *APU) clockEnvelope() {
	clockOne := func(enabled bool, per byte, timer *byte, dir int8, curVol *byte) {
		if !enabled || per == 0 {
			return
		}
		if *timer > 0 {
			*timer--
		}
		if *timer == 0 {
			*timer = per
			if dir > 0 && *curVol < 15 {
				*curVol++
			} else if dir < 0 && *curVol > 0 {
				*curVol--
			}
		}
	}
	clockOne(a.ch1.enabled, a.ch1.envPer, &a.ch1.envTmr, a.ch1.envDir, &a.ch1.curVol)
	clockOne(a.ch2.enabled, a.ch2.envPer, &a.ch2.envTmr, a.ch2.envDir, &a.ch2.curVol)
	clockOne(a.ch4.enabled, a.ch4.envPer, &a.ch4.envTmr, a.ch4.envDir, &a.ch4.curVol)
}

func (a *APU) clockSweep() {
	if !a.ch1.enabled || !a.ch1.sweepEn || a.ch1.sweepPer == 0 {
		return
	}
	if a.ch1.sweepTmr > 0 {
		a.ch1.sweepTmr--
	}
	if a.ch1.sweepTmr != 0 {
		return
	}
	a.ch1.sweepTmr = a.ch1.sweepPer
	nf := a.calcCh1Sweep()
	if nf > 2047 {
		a.ch1.enabled = false
		return
	}
	if a.ch1.sweepShift != 0 {
		a.ch1.sweepShadow = uint16(nf)
		a.ch1.freq = (a.ch1.freq &^ 0x07FF) | (uint16(nf) & 0x07FF)
		a.reloadCh1Timer()
	}
	// Overflow check runs again on the updated shadow frequency.
	if a.calcCh1Sweep() > 2047 {
		a.ch1.enabled = false
	}
}

// calcCh1Sweep computes the next sweep frequency from the shadow register.
func (a *APU) calcCh1Sweep() int {
	base := int(a.ch1.sweepShadow)
	delta := base >> a.ch1.sweepShift
	if a.ch1.sweepNeg {
		return base - delta
	}
	return base + delta
}

// channelOutputs returns each channel's instantaneous output in [-1, +1],
// zero for a disabled or DAC-off channel. Shared by the stereo mixer so the
// per-channel waveform logic exists in exactly one place.
func (a *APU) channelOutputs() (c1, c2, c3, c4 float64) {
	squareOut := func(duty byte, phase int, curVol byte) float64 {
		amp := float64(curVol) / 15.0
		if dutyTable[duty][phase] != 0 {
			return amp
		}
		return -amp
	}
	if a.ch1.enabled {
		c1 = squareOut(a.ch1.duty, a.ch1.phase, a.ch1.curVol)
	}
	if a.ch2.enabled {
		c2 = squareOut(a.ch2.duty, a.ch2.phase, a.ch2.curVol)
	}
	if a.ch3.enabled && a.ch3.dacEn && a.ch3.volCode != 0 {
		b := a.ch3.ram[a.ch3.pos>>1]
		var nibble byte
		if a.ch3.pos&1 == 0 {
			nibble = (b >> 4) & 0x0F
		} else {
			nibble = b & 0x0F
		}
		shift := a.ch3.volCode - 1
		c3 = (float64(nibble)/7.5 - 1.0) / float64(int(1)<<shift)
	}
	if a.ch4.enabled {
		amp := float64(a.ch4.curVol) / 15.0
		if (^a.ch4.lfsr)&1 != 0 {
			c4 = amp
		} else {
			c4 = -amp
		}
	}
	return
}

// mixSampleStereo routes the four channel outputs through NR51 and scales
// by NR50's per-terminal master volume.
func (a *APU) mixSampleStereo() (int16, int16) {
	c1, c2, c3, c4 := a.channelOutputs()

	rMask := a.nr51 & 0x0F
	lMask := (a.nr51 >> 4) & 0x0F
	if rMask == 0 && lMask == 0 {
		// A handful of boot sequences leave NR51 at zero briefly; route
		// everything to both terminals rather than producing total silence.
		rMask, lMask = 0x0F, 0x0F
	}
	route := func(mask byte) float64 {
		var v float64
		if mask&0x1 != 0 {
			v += c1
		}
		if mask&0x2 != 0 {
			v += c2
		}
		if mask&0x4 != 0 {
			v += c3
		}
		if mask&0x8 != 0 {
			v += c4
		}
		return v
	}
	l := route(lMask) * (float64((a.nr50>>4)&0x07) / 7.0)
	r := route(rMask) * (float64(a.nr50&0x07) / 7.0)

	return clampToInt16(l * a.mixGain), clampToInt16(r * a.mixGain)
}

func clampToInt16(v float64) int16 {
	if v > 1 {
		v = 1
	} else if v < -1 {
		v = -1
	}
	return int16(v * 32767)
}

// pushStereo pushes a stereo frame to the ring buffer, dropping it if full.
func (a *APU) pushStereo(l, r int16) {
	next := (a.sHead + 1) & (len(a.sL) - 1)
	if next == a.sTail {
		return
	}
	a.sL[a.sHead] = l
	a.sR[a.sHead] = r
	a.sHead = next
}

// PullStereo returns up to max stereo frames as an interleaved int16 slice [L0,R0,L1,R1,...].
func (a *APU) PullStereo(max int) []int16 {
	if max <= 0 || a.sHead == a.sTail {
		return nil
	}
	count := a.StereoAvailable()
	if count > max {
		count = max
	}
	out := make([]int16, 0, count*2)
	for i := 0; i < count; i++ {
		out = append(out, a.sL[a.sTail], a.sR[a.sTail])
		a.sTail = (a.sTail + 1) & (len(a.sL) - 1)
	}
	return out
}

// StereoAvailable returns the number of stereo frames currently buffered.
func (a *APU) StereoAvailable() int {
	if a.sHead == a.sTail {
		return 0
	}
	if a.sHead >= a.sTail {
		return a.sHead - a.sTail
	}
	return (len(a.sL) - a.sTail) + a.sHead
}

// --- Save/Load state ---
type apuState struct {
	Enabled    bool
	NR50, NR51 byte
	FSctr      int
	FSstep     int
	Ch1        ch1State
	Ch2        ch2State
	Ch3        ch3State
	Ch4        ch4State
	CycAccum   float64
}

type ch1State struct {
	Enabled     bool
	DACOn       bool
	Duty        byte
	Length      int
	LenEn       bool
	Vol         byte
	EnvDir      int8
	EnvPer      byte
	CurVol      byte
	EnvTmr      byte
	Freq        uint16
	Timer       int
	Phase       int
	SweepPer    byte
	SweepNeg    bool
	SweepShift  byte
	SweepTmr    byte
	SweepEn     bool
	SweepShadow uint16
}

type ch2State struct {
	Enabled bool
	DACOn   bool
	Duty    byte
	Length  int
	LenEn   bool
	Vol     byte
	EnvDir  int8
	EnvPer  byte
	CurVol  byte
	EnvTmr  byte
	Freq    uint16
	Timer   int
	Phase   int
}

type ch3State struct {
	Enabled bool
	DAC     bool
	Length  int
	LenEn   bool
	VolCode byte
	Freq    uint16
	Timer   int
	Pos     int
	RAM     [16]byte
}

type ch4State struct {
	Enabled bool
	DACOn   bool
	Length  int
	LenEn   bool
	Vol     byte
	EnvDir  int8
	EnvPer  byte
	CurVol  byte
	EnvTmr  byte
	Shift   byte
	Width7  bool
	DivSel  byte
	Timer   int
	LFSR    uint16
}

func (a *APU) SaveState() []byte {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	s := apuState{
		Enabled: a.enabled,
		NR50:    a.nr50, NR51: a.nr51,
		FSctr: a.fsCounter, FSstep: a.fsStep,
		Ch1: ch1State{
			Enabled: a.ch1.enabled, DACOn: a.ch1.dacOn, Duty: a.ch1.duty, Length: a.ch1.length,
			LenEn: a.ch1.lenEn, Vol: a.ch1.vol, EnvDir: a.ch1.envDir, EnvPer: a.ch1.envPer,
			CurVol: a.ch1.curVol, EnvTmr: a.ch1.envTmr,
			Freq: a.ch1.freq, Timer: a.ch1.timer, Phase: a.ch1.phase,
			SweepPer: a.ch1.sweepPer, SweepNeg: a.ch1.sweepNeg, SweepShift: a.ch1.sweepShift,
			SweepTmr: a.ch1.sweepTmr, SweepEn: a.ch1.sweepEn, SweepShadow: a.ch1.sweepShadow,
		},
		Ch2: ch2State{
			Enabled: a.ch2.enabled, DACOn: a.ch2.dacOn, Duty: a.ch2.duty, Length: a.ch2.length,
			LenEn: a.ch2.lenEn, Vol: a.ch2.vol, EnvDir: a.ch2.envDir, EnvPer: a.ch2.envPer,
			CurVol: a.ch2.curVol, EnvTmr: a.ch2.envTmr,
			Freq: a.ch2.freq, Timer: a.ch2.timer, Phase: a.ch2.phase,
		},
		Ch3: ch3State{
			Enabled: a.ch3.enabled, DAC: a.ch3.dacEn, Length: a.ch3.length, LenEn: a.ch3.lenEn,
			VolCode: a.ch3.volCode, Freq: a.ch3.freq, Timer: a.ch3.timer, Pos: a.ch3.pos,
			RAM: a.ch3.ram,
		},
		Ch4: ch4State{
			Enabled: a.ch4.enabled, DACOn: a.ch4.dacOn, Length: a.ch4.length, LenEn: a.ch4.lenEn,
			Vol: a.ch4.vol, EnvDir: a.ch4.envDir, EnvPer: a.ch4.envPer,
			CurVol: a.ch4.curVol, EnvTmr: a.ch4.envTmr,
			Shift: a.ch4.shift, Width7: a.ch4.width7, DivSel: a.ch4.divSel,
			Timer: a.ch4.timer, LFSR: a.ch4.lfsr,
		},
		CycAccum: a.cycAccum,
	}
	_ = enc.Encode(s)
	return buf.Bytes()
}

func (a *APU) LoadState(data []byte) {
	var s apuState
	dec := gob.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&s); err != nil {
		return
	}
	a.enabled = s.Enabled
	a.nr50, a.nr51 = s.NR50, s.NR51
	a.fsCounter, a.fsStep = s.FSctr, s.FSstep

	a.ch1.enabled, a.ch1.dacOn = s.Ch1.Enabled, s.Ch1.DACOn
	a.ch1.duty, a.ch1.length, a.ch1.lenEn = s.Ch1.Duty, s.Ch1.Length, s.Ch1.LenEn
	a.ch1.vol, a.ch1.envDir, a.ch1.envPer = s.Ch1.Vol, s.Ch1.EnvDir, s.Ch1.EnvPer
	a.ch1.curVol, a.ch1.envTmr = s.Ch1.CurVol, s.Ch1.EnvTmr
	a.ch1.freq, a.ch1.timer, a.ch1.phase = s.Ch1.Freq, s.Ch1.Timer, s.Ch1.Phase
	a.ch1.sweepPer, a.ch1.sweepNeg, a.ch1.sweepShift = s.Ch1.SweepPer, s.Ch1.SweepNeg, s.Ch1.SweepShift
	a.ch1.sweepTmr, a.ch1.sweepEn, a.ch1.sweepShadow = s.Ch1.SweepTmr, s.Ch1.SweepEn, s.Ch1.SweepShadow

	a.ch2.enabled, a.ch2.dacOn = s.Ch2.Enabled, s.Ch2.DACOn
	a.ch2.duty, a.ch2.length, a.ch2.lenEn = s.Ch2.Duty, s.Ch2.Length, s.Ch2.LenEn
	a.ch2.vol, a.ch2.envDir, a.ch2.envPer = s.Ch2.Vol, s.Ch2.EnvDir, s.Ch2.EnvPer
	a.ch2.curVol, a.ch2.envTmr = s.Ch2.CurVol, s.Ch2.EnvTmr
	a.ch2.freq, a.ch2.timer, a.ch2.phase = s.Ch2.Freq, s.Ch2.Timer, s.Ch2.Phase

	a.ch3.enabled, a.ch3.dacEn = s.Ch3.Enabled, s.Ch3.DAC
	a.ch3.length, a.ch3.lenEn, a.ch3.volCode = s.Ch3.Length, s.Ch3.LenEn, s.Ch3.VolCode
	a.ch3.freq, a.ch3.timer, a.ch3.pos = s.Ch3.Freq, s.Ch3.Timer, s.Ch3.Pos
	a.ch3.ram = s.Ch3.RAM

	a.ch4.enabled, a.ch4.dacOn = s.Ch4.Enabled, s.Ch4.DACOn
	a.ch4.length, a.ch4.lenEn = s.Ch4.Length, s.Ch4.LenEn
	a.ch4.vol, a.ch4.envDir, a.ch4.envPer = s.Ch4.Vol, s.Ch4.EnvDir, s.Ch4.EnvPer
	a.ch4.curVol, a.ch4.envTmr = s.Ch4.CurVol, s.Ch4.EnvTmr
	a.ch4.shift, a.ch4.width7, a.ch4.divSel = s.Ch4.Shift, s.Ch4.Width7, s.Ch4.DivSel
	a.ch4.timer, a.ch4.lfsr = s.Ch4.Timer, s.Ch4.LFSR

	a.cycAccum = s.CycAccum
}

func boolToByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
