package cart

import "testing"

func TestMBC3_RTC_LatchAndRead(t *testing.T) {
	rom := make([]byte, 0x8000)
	m := NewMBC3(rom, 0x2000)

	m.Write(0x0000, 0x0A) // RAM/RTC enable
	m.clock.seconds, m.clock.minutes, m.clock.hours, m.clock.dayLow, m.clock.dayHigh = 5, 6, 7, 0x01, 0x01

	m.Write(0x6000, 0x00) // latch sequence: 0x00 then 0x01
	m.Write(0x6000, 0x01)

	m.Write(0x4000, 0x08) // select seconds register
	if got := m.Read(0xA000); got != 5 {
		t.Fatalf("latched seconds got %d want 5", got)
	}

	// Advancing the live clock must not disturb the already-latched value.
	m.clock.seconds = 30
	if got := m.Read(0xA000); got != 5 {
		t.Fatalf("latched seconds changed unexpectedly: got %d", got)
	}

	m.Write(0x4000, 0x0B) // day low
	if got := m.Read(0xA000); got != 0x01 {
		t.Fatalf("latched day low got %#02x want 0x01", got)
	}

	m.Write(0x4000, 0x0C) // day high/carry/halt
	got := m.Read(0xA000)
	if got&0x01 == 0 {
		t.Fatalf("latched day high bit not set")
	}
	if got&0x40 != 0 {
		t.Fatalf("halt bit set unexpectedly")
	}
}

func TestMBC3_RTC_LatchRequiresZeroThenOne(t *testing.T) {
	rom := make([]byte, 0x8000)
	m := NewMBC3(rom, 0x2000)
	m.Write(0x0000, 0x0A)
	m.clock.seconds = 12

	// Writing 0x01 directly, with no preceding 0x00, must not latch.
	m.Write(0x6000, 0x01)
	m.clock.seconds = 40
	m.Write(0x4000, 0x08)
	if got := m.Read(0xA000); got != 0 {
		t.Fatalf("expected no latch without the 0x00 prefix, got %d", got)
	}
}

func TestMBC3_RTC_TickCascadesSecondsToDay(t *testing.T) {
	rom := make([]byte, 0x8000)
	m := NewMBC3(rom, 0x2000)
	m.clock.seconds, m.clock.minutes, m.clock.hours, m.clock.dayLow, m.clock.dayHigh = 59, 59, 23, 0xFF, 0x01

	m.Tick(cpuHz) // exactly one second

	if m.clock.seconds != 0 || m.clock.minutes != 0 || m.clock.hours != 0 {
		t.Fatalf("rollover got %02d:%02d:%02d", m.clock.hours, m.clock.minutes, m.clock.seconds)
	}
	if m.clock.dayLow != 0 || m.clock.dayHigh&0x01 != 0 || m.clock.dayHigh&0x80 == 0 {
		t.Fatalf("expected day counter to wrap and set carry, got dayLow=%#02x dayHigh=%#02x", m.clock.dayLow, m.clock.dayHigh)
	}
}

func TestMBC3_RTC_HaltStopsTicking(t *testing.T) {
	rom := make([]byte, 0x8000)
	m := NewMBC3(rom, 0x2000)
	m.clock.dayHigh = 0x40 // halt bit set
	m.clock.seconds = 10

	m.Tick(cpuHz * 5)
	if m.clock.seconds != 10 {
		t.Fatalf("halted clock advanced: seconds=%d", m.clock.seconds)
	}
}

func TestMBC3_RTC_SaveAndLoadPersistsClock(t *testing.T) {
	rom := make([]byte, 0x8000)
	m := NewMBC3(rom, 0x2000)
	m.Write(0x0000, 0x0A)
	m.ram[0] = 0x42
	m.clock.seconds, m.clock.minutes, m.clock.hours, m.clock.dayLow, m.clock.dayHigh = 1, 2, 3, 4, 0x01
	m.Write(0x6000, 0x00)
	m.Write(0x6000, 0x01)

	data := m.SaveRAM()

	n := NewMBC3(rom, 0x2000)
	n.LoadRAM(data)

	if n.ram[0] != 0x42 {
		t.Fatalf("RAM not restored")
	}
	if n.clock.seconds != 1 || n.clock.minutes != 2 || n.clock.hours != 3 || n.clock.dayLow != 4 {
		t.Fatalf("live clock not restored: %+v", n.clock)
	}
	n.Write(0x0000, 0x0A) // RAM/RTC enable
	n.Write(0x4000, 0x08)
	if got := n.Read(0xA000); got != 1 {
		t.Fatalf("latched clock not restored: got %d want 1", got)
	}
}

func TestMBC3_RTC_LoadLegacyRAMOnlyDump(t *testing.T) {
	rom := make([]byte, 0x8000)
	m := NewMBC3(rom, 0x2000)
	legacy := make([]byte, 0x2000)
	legacy[10] = 0x99

	m.LoadRAM(legacy)
	if m.ram[10] != 0x99 {
		t.Fatalf("legacy RAM-only save not loaded")
	}
}
