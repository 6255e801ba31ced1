package main

import (
	"fmt"
	"hash/crc32"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"github.com/alloncm/gbcore-go/internal/cart"
	"github.com/alloncm/gbcore-go/internal/machine"
	"github.com/alloncm/gbcore-go/internal/presentation"
)

func main() {
	app := cli.NewApp()
	app.Name = "gbcore"
	app.Usage = "Game Boy / Game Boy Color emulator"
	app.Version = "0.1.0"
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "rom", Usage: "path to ROM (.gb/.gbc)"},
		cli.StringFlag{Name: "bootrom", Usage: "optional DMG/CGB boot ROM"},
		cli.IntFlag{Name: "scale", Value: 3, Usage: "window scale"},
		cli.StringFlag{Name: "title", Value: "gbemu", Usage: "window title"},
		cli.BoolFlag{Name: "trace", Usage: "log CPU instructions"},
		cli.BoolFlag{Name: "save", Usage: "persist battery RAM to ROM.sav on exit and load on start"},
		cli.BoolFlag{Name: "headless", Usage: "run without a window"},
		cli.IntFlag{Name: "frames", Value: 300, Usage: "frames to run in headless mode"},
		cli.StringFlag{Name: "outpng", Usage: "write last framebuffer to PNG at path"},
		cli.StringFlag{Name: "expect", Usage: "assert framebuffer CRC32 (hex)"},
	}
	app.Action = runApp

	if err := app.Run(os.Args); err != nil {
		logrus.WithError(err).Fatal("gbcore: exiting")
	}
}

func runApp(c *cli.Context) error {
	romPath := c.String("rom")
	var rom []byte
	if romPath != "" {
		b, err := os.ReadFile(romPath)
		if err != nil {
			return cli.NewExitError(fmt.Sprintf("read rom: %v", err), 1)
		}
		rom = b
	}
	var boot []byte
	if bp := c.String("bootrom"); bp != "" {
		b, err := os.ReadFile(bp)
		if err != nil {
			return cli.NewExitError(fmt.Sprintf("read bootrom: %v", err), 1)
		}
		boot = b
	}

	if len(rom) >= 0x150 {
		if h, err := cart.ParseHeader(rom); err == nil {
			logrus.WithFields(logrus.Fields{
				"title": h.Title, "type": h.CartTypeStr, "banks": h.ROMBanks, "ramBytes": h.RAMSizeBytes,
			}).Info("gbcore: parsed ROM header")
		}
	}

	m := machine.New(machine.Config{Trace: c.Bool("trace"), LimitFPS: !c.Bool("headless")})
	if len(boot) >= 0x100 {
		m.SetBootROM(boot)
	}

	saveRAM := c.Bool("save")
	var savPath string
	if len(rom) > 0 {
		if err := m.LoadCartridge(rom, boot); err != nil {
			return cli.NewExitError(fmt.Sprintf("load cart: %v", err), 1)
		}
		if romPath != "" {
			abs, err := filepath.Abs(romPath)
			if err != nil {
				abs = romPath
			}
			_ = m.LoadROMFromFile(abs) // reload through file path to set romPath
		}
		if saveRAM && romPath != "" {
			savPath = strings.TrimSuffix(romPath, filepath.Ext(romPath)) + ".sav"
			if data, err := os.ReadFile(savPath); err == nil {
				if m.LoadBattery(data) {
					logrus.WithField("path", savPath).WithField("bytes", len(data)).Info("gbcore: loaded save RAM")
				}
			}
		}
	}

	if c.Bool("headless") {
		if err := runHeadless(m, c.Int("frames"), c.String("outpng"), c.String("expect")); err != nil {
			return cli.NewExitError(err.Error(), 1)
		}
		persistBattery(m, saveRAM, savPath)
		return nil
	}

	uiCfg := presentation.Config{Title: c.String("title"), Scale: c.Int("scale")}
	app := presentation.NewApp(uiCfg, m)
	if err := app.Run(); err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	if s, ok := any(app).(interface{ SaveSettings() }); ok {
		s.SaveSettings()
	}
	if savPath == "" && m.ROMPath() != "" && strings.HasSuffix(strings.ToLower(m.ROMPath()), ".gb") {
		savPath = strings.TrimSuffix(m.ROMPath(), ".gb") + ".sav"
	}
	persistBattery(m, saveRAM, savPath)
	return nil
}

func persistBattery(m *machine.Machine, enabled bool, savPath string) {
	if !enabled || savPath == "" {
		return
	}
	data, ok := m.SaveBattery()
	if !ok {
		return
	}
	if err := os.WriteFile(savPath, data, 0644); err != nil {
		logrus.WithError(err).WithField("path", savPath).Warn("gbcore: failed to write save RAM")
		return
	}
	logrus.WithField("path", savPath).Info("gbcore: wrote save RAM")
}

func runHeadless(m *machine.Machine, frames int, pngPath, expectCRC string) error {
	if frames <= 0 {
		frames = 1
	}

	start := time.Now()
	for i := 0; i < frames; i++ {
		m.StepFrame()
	}
	dur := time.Since(start)

	fb := m.Framebuffer() // RGBA 160x144*4
	crc := crc32.ChecksumIEEE(fb)
	fps := float64(frames) / dur.Seconds()

	logrus.WithFields(logrus.Fields{
		"frames": frames, "elapsed": dur.Truncate(time.Millisecond), "fps": fps, "fbCRC32": fmt.Sprintf("%08x", crc),
	}).Info("gbcore: headless run complete")

	if pngPath != "" {
		if err := saveFramePNG(fb, 160, 144, pngPath); err != nil {
			return fmt.Errorf("write PNG: %w", err)
		}
		logrus.WithField("path", pngPath).Info("gbcore: wrote framebuffer PNG")
	}

	if expectCRC != "" {
		want := strings.TrimPrefix(strings.ToLower(expectCRC), "0x")
		got := fmt.Sprintf("%08x", crc)
		if got != want {
			return fmt.Errorf("checksum mismatch: got %s, want %s", got, want)
		}
	}
	return nil
}

func saveFramePNG(pix []byte, w, h int, path string) error {
	img := &image.RGBA{
		Pix:    make([]byte, len(pix)),
		Stride: 4 * w,
		Rect:   image.Rect(0, 0, w, h),
	}
	copy(img.Pix, pix)
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return png.Encode(f, img)
}
