package apu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestFrameSequencer_LengthDisablesChannel checks the §4.7/§8 frame
// sequencer contract: a length-enabled channel with a short length counter
// is silenced after the corresponding number of 256 Hz length clocks, which
// land on frame-sequencer steps 0,2,4,6 (every 8192 T-cycles).
func TestFrameSequencer_LengthDisablesChannel(t *testing.T) {
	a := New(48000)

	a.CPUWrite(0xFF11, 0x3F) // duty=0, length=64-63=1
	a.CPUWrite(0xFF12, 0xF0) // max volume, DAC on
	a.CPUWrite(0xFF13, 0x00)
	a.CPUWrite(0xFF14, 0xC0) // trigger, length enable

	require.True(t, a.ch1.enabled, "channel 1 should be enabled after trigger")
	require.Equal(t, 1, a.ch1.length)

	// One length clock (8192 T-cycles) should exhaust the length=1 counter.
	a.Tick(8192)

	assert.False(t, a.ch1.enabled, "channel should self-disable when its length counter reaches zero")
}

func TestTrigger_DACOffKeepsChannelDisabled(t *testing.T) {
	a := New(48000)

	a.CPUWrite(0xFF12, 0x00) // envelope upper 5 bits zero -> DAC off
	a.CPUWrite(0xFF14, 0x80) // trigger

	assert.False(t, a.ch1.enabled, "triggering with the DAC off must not enable the channel")
}

func TestWaveRAM_ReadWriteRoundTrip(t *testing.T) {
	a := New(48000)

	for i := uint16(0); i < 16; i++ {
		a.CPUWrite(0xFF30+i, byte(i)|0xA0)
	}
	for i := uint16(0); i < 16; i++ {
		assert.Equal(t, byte(i)|0xA0, a.CPURead(0xFF30+i))
	}
}

func TestPowerOff_ResetsRegistersButKeepsSampleRate(t *testing.T) {
	a := New(44100)
	a.CPUWrite(0xFF24, 0x77)
	a.CPUWrite(0xFF11, 0x3F)
	a.CPUWrite(0xFF12, 0xF0)
	a.CPUWrite(0xFF14, 0x80)
	require.True(t, a.ch1.enabled)

	a.CPUWrite(0xFF26, 0x00) // power off

	assert.False(t, a.enabled)
	assert.False(t, a.ch1.enabled, "power-off must clear channel state")
	assert.Equal(t, 44100, a.sampleRate, "sample rate survives a power cycle")
}

func TestPullStereo_DrainsNoMoreThanBuffered(t *testing.T) {
	a := New(48000)
	a.CPUWrite(0xFF11, 0x00)
	a.CPUWrite(0xFF12, 0xF0)
	a.CPUWrite(0xFF14, 0x80)

	a.Tick(4096)

	avail := a.StereoAvailable()
	require.Greater(t, avail, 0, "ticking an enabled channel should produce samples")

	got := a.PullStereo(avail + 1000)
	assert.LessOrEqual(t, len(got), (avail+1000)*2)
	assert.Equal(t, 0, a.StereoAvailable(), "pulling more than available drains the buffer")
}
