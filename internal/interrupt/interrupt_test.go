package interrupt

import "testing"

func TestController_PriorityOrder(t *testing.T) {
	c := &Controller{IE: 0x1F}
	c.Request(Joypad)
	c.Request(Timer)
	c.Request(VBlank)

	s, ok := c.Next()
	if !ok || s != VBlank {
		t.Fatalf("got %v want VBlank", s)
	}
	c.Acknowledge(VBlank)

	s, ok = c.Next()
	if !ok || s != Timer {
		t.Fatalf("got %v want Timer", s)
	}
	c.Acknowledge(Timer)

	s, ok = c.Next()
	if !ok || s != Joypad {
		t.Fatalf("got %v want Joypad", s)
	}
}

func TestController_MaskedByIE(t *testing.T) {
	c := &Controller{IE: 1 << uint(Timer)}
	c.Request(VBlank)
	c.Request(Timer)

	s, ok := c.Next()
	if !ok || s != Timer {
		t.Fatalf("got %v,%v want Timer,true", s, ok)
	}
}

func TestController_PendingWakesRegardlessOfIME(t *testing.T) {
	c := &Controller{IE: 1 << uint(VBlank)}
	if c.Pending() {
		t.Fatalf("no interrupt requested yet")
	}
	c.Request(VBlank)
	if !c.Pending() {
		t.Fatalf("expected Pending after Request with matching IE, regardless of IME")
	}
}

func TestController_EIDelaysByOneInstruction(t *testing.T) {
	c := &Controller{}
	c.ScheduleEnable()
	if c.IME {
		t.Fatalf("IME should not be set until LatchPending is called")
	}
	c.LatchPending()
	if !c.IME {
		t.Fatalf("expected IME set after LatchPending")
	}
}

func TestController_DICancelsScheduledEnable(t *testing.T) {
	c := &Controller{}
	c.ScheduleEnable()
	c.CancelScheduledEnable()
	c.LatchPending()
	if c.IME {
		t.Fatalf("expected scheduled enable to have been cancelled")
	}
}

func TestController_VectorsMatchHardware(t *testing.T) {
	want := map[Source]uint16{
		VBlank:  0x40,
		LCDStat: 0x48,
		Timer:   0x50,
		Serial:  0x58,
		Joypad:  0x60,
	}
	for s, v := range want {
		if s.Vector() != v {
			t.Fatalf("%v.Vector() = %#02x, want %#02x", s, s.Vector(), v)
		}
	}
}
