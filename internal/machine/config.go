package machine

import "github.com/sirupsen/logrus"

// Config contains settings that affect emulation behavior.
type Config struct {
	Trace        bool // log CPU instructions
	LimitFPS     bool // set by cmd/gbcore for windowed runs; the machine does not read it
	UseFetcherBG bool // recorded only; the PPU has one BG scanline path (see SetUseFetcherBG)
	// Later: fast-forward, GBC enable, debugger flags, etc.

	// Logger receives structured construction/diagnostic logs. A nil
	// Logger falls back to logrus's standard logger.
	Logger *logrus.Logger
}

func (c Config) logger() *logrus.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return logrus.StandardLogger()
}
