package timer

import "testing"

func TestTimer_FrequencySteadyState(t *testing.T) {
	tm := New(nil)
	// TAC=0x05: enabled, input select 01 -> increments every 16 T-cycles.
	tm.WriteTAC(0x05)

	const cyclesPerTick = 16
	const ticks = 50
	tm.Tick(cyclesPerTick * ticks)

	if got := tm.TIMA(); got != ticks {
		t.Fatalf("got %d TIMA increments in %d cycles, want %d", got, cyclesPerTick*ticks, ticks)
	}
}

func TestTimer_OverflowReloadsFromTMA(t *testing.T) {
	var fired bool
	tm := New(func() { fired = true })
	tm.WriteTAC(0x05) // enabled, /16
	tm.WriteTMA(0x7F)
	tm.WriteTIMA(0xFF)

	// One falling edge causes overflow -> 0x00, reload scheduled 4 cycles later.
	tm.Tick(16)
	if tm.TIMA() != 0x00 {
		t.Fatalf("TIMA after overflow = %#02x, want 0x00", tm.TIMA())
	}
	tm.Tick(4)
	if !fired {
		t.Fatalf("expected timer interrupt request on reload")
	}
	if tm.TIMA() != 0x7F {
		t.Fatalf("TIMA after reload = %#02x, want TMA (0x7F)", tm.TIMA())
	}
}

func TestTimer_WriteDuringReloadCancelsIt(t *testing.T) {
	var fired bool
	tm := New(func() { fired = true })
	tm.WriteTAC(0x05)
	tm.WriteTMA(0x55)
	tm.WriteTIMA(0xFF)
	tm.Tick(16) // overflow -> 0x00, reload scheduled
	tm.WriteTIMA(0x10) // cancel pending reload
	tm.Tick(4)
	if fired {
		t.Fatalf("reload should have been cancelled by the TIMA write")
	}
	if tm.TIMA() != 0x10 {
		t.Fatalf("TIMA = %#02x, want 0x10 (the cancelling write)", tm.TIMA())
	}
}

func TestTimer_DIVResetCanFallingEdgeIncrement(t *testing.T) {
	tm := New(nil)
	tm.WriteTAC(0x04 | 0x03) // enabled, bit7 (16384Hz) selected
	tm.Tick(1 << 7)          // set bit 7 of the divider high
	before := tm.TIMA()
	tm.WriteDIV() // resets divider; bit7 1->0 is a falling edge
	if got := tm.TIMA(); got != before+1 {
		t.Fatalf("DIV write increment: TIMA went %d -> %d, want +1", before, got)
	}
}
