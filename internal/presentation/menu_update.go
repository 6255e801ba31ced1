package presentation

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/inpututil"
)

// settingsRows returns the ordered list of settings row keys for the
// current machine state, used by updateSettingsMenu; drawSettingsMenu
// builds its item labels in the same order so the cursor lines up.
func settingsRows(hasCompat bool) []string {
	rows := []string{"scale", "audio", "adaptive", "lowlatency", "bgrenderer", "romsdir", "cgbcolors"}
	if hasCompat {
		rows = append(rows, "comppalette")
	}
	return append(rows, "shelloverlay", "shellskin")
}

func (a *App) updateMainMenu() {
	max := 6
	if inpututil.IsKeyJustPressed(ebiten.KeyArrowUp) && a.menuIdx > 0 {
		a.menuIdx--
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyArrowDown) && a.menuIdx < max {
		a.menuIdx++
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyEnter) {
		switch a.menuIdx {
		case 0:
			if err := a.saveSlot(a.currentSlot); err == nil {
				a.toast(fmt.Sprintf("Saved slot %d", a.currentSlot+1))
			} else {
				a.toast("Save failed: " + err.Error())
			}
		case 1:
			if _, err := os.Stat(a.statePath(a.currentSlot)); err != nil {
				a.toast("Slot is empty")
			} else {
				if err := a.loadSlot(a.currentSlot); err == nil {
					a.toast(fmt.Sprintf("Loaded slot %d", a.currentSlot+1))
				} else {
					a.toast("Load failed: " + err.Error())
				}
			}
		case 2:
			a.menu = menuSlotSelect
			a.menuIdx = a.currentSlot
		case 3:
			a.romList = a.findROMs()
			a.romSel = 0
			a.romOff = 0
			a.menu = menuROMBrowser
		case 4:
			a.menu = menuSettings
			a.menuIdx = 0
			a.editingROMDir = false
		case 5:
			a.menu = menuKeybindings
			a.keysOff = 0
		case 6:
			a.showMenu = false
		}
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyBackspace) {
		a.showMenu = false
	}
}

func (a *App) updateSlotMenu() {
	if inpututil.IsKeyJustPressed(ebiten.KeyArrowUp) && a.menuIdx > 0 {
		a.menuIdx--
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyArrowDown) && a.menuIdx < 3 {
		a.menuIdx++
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyEnter) {
		a.currentSlot = a.menuIdx
		a.toast(fmt.Sprintf("Slot set to %d", a.currentSlot+1))
		a.menu = menuMain
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyEscape) || inpututil.IsKeyJustPressed(ebiten.KeyBackspace) {
		a.menu = menuMain
	}
}

func (a *App) updateRomMenu() {
	n := len(a.romList)
	if n == 0 {
		if inpututil.IsKeyJustPressed(ebiten.KeyEnter) || inpututil.IsKeyJustPressed(ebiten.KeyEscape) || inpututil.IsKeyJustPressed(ebiten.KeyBackspace) {
			a.menu = menuMain
		}
		return
	}
	baseY := 28
	maxRows := (screenH - baseY) / 14
	if maxRows < 1 {
		maxRows = 1
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyArrowUp) && a.romSel > 0 {
		a.romSel--
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyArrowDown) && a.romSel < n-1 {
		a.romSel++
	}
	if a.romSel < a.romOff {
		a.romOff = a.romSel
	}
	if a.romSel >= a.romOff+maxRows {
		a.romOff = a.romSel - maxRows + 1
	}
	if a.romOff < 0 {
		a.romOff = 0
	}
	if a.romOff > n-1 {
		a.romOff = n - 1
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyEnter) {
		path := a.romList[a.romSel]
		if err := a.m.LoadROMFromFile(path); err == nil {
			a.toast("Loaded ROM: " + filepath.Base(path))
			if strings.HasSuffix(strings.ToLower(path), ".gb") {
				sav := strings.TrimSuffix(path, ".gb") + ".sav"
				if data, err := os.ReadFile(sav); err == nil {
					_ = a.m.LoadBattery(data)
				}
			}
			if a.m.WantCGBColors() && !a.m.UseCGBBG() {
				a.m.ResetCGBPostBoot(true)
			}
			a.setWindowTitle()
			if a.m.IsCGBCompat() && a.cfg.PerROMCompatPalette != nil {
				if pid, ok := a.cfg.PerROMCompatPalette[path]; ok {
					a.m.SetCompatPalette(pid)
				}
			}
		} else {
			a.toast("ROM load failed: " + err.Error())
		}
		a.menu = menuMain
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyEscape) || inpututil.IsKeyJustPressed(ebiten.KeyBackspace) {
		a.menu = menuMain
	}
}

func (a *App) updateKeysMenu() {
	if inpututil.IsKeyJustPressed(ebiten.KeyArrowUp) && a.keysOff > 0 {
		a.keysOff--
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyArrowDown) {
		a.keysOff++
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyEnter) || inpututil.IsKeyJustPressed(ebiten.KeyEscape) || inpututil.IsKeyJustPressed(ebiten.KeyBackspace) {
		a.menu = menuMain
	}
}

func (a *App) updateSettingsMenu() {
	hasCompat := a.m != nil && a.m.IsCGBCompat()
	rows := settingsRows(hasCompat)

	if !a.editingROMDir {
		if inpututil.IsKeyJustPressed(ebiten.KeyArrowUp) && a.menuIdx > 0 {
			a.menuIdx--
		}
		if inpututil.IsKeyJustPressed(ebiten.KeyArrowDown) && a.menuIdx < len(rows)-1 {
			a.menuIdx++
		}
		title := "Settings (Up/Down select; Left/Right change; Enter: edit/apply; Backspace/Esc: back)"
		baseY := 10 + 14*len(a.wrapText(title, a.maxCharsForText(10))) + 14
		maxRows := (screenH - baseY) / 14
		if maxRows < 1 {
			maxRows = 1
		}
		if a.menuIdx < a.settingsOff {
			a.settingsOff = a.menuIdx
		}
		if a.menuIdx >= a.settingsOff+maxRows {
			a.settingsOff = a.menuIdx - maxRows + 1
		}
	}

	left := inpututil.IsKeyJustPressed(ebiten.KeyArrowLeft)
	right := inpututil.IsKeyJustPressed(ebiten.KeyArrowRight)
	enter := inpututil.IsKeyJustPressed(ebiten.KeyEnter)

	row := ""
	if a.menuIdx >= 0 && a.menuIdx < len(rows) {
		row = rows[a.menuIdx]
	}

	switch {
	case row == "scale" && !a.editingROMDir:
		if left && a.cfg.Scale > 1 {
			a.cfg.Scale--
			a.applyWindowSize()
		}
		if right && a.cfg.Scale < 10 {
			a.cfg.Scale++
			a.applyWindowSize()
		}
	case row == "audio" && !a.editingROMDir:
		if left || right {
			a.cfg.AudioStereo = !a.cfg.AudioStereo
			if a.audioPlayer != nil {
				a.audioPlayer.Close()
				a.audioPlayer = nil
			}
			for i := 0; i < 12; i++ {
				a.m.StepFrame()
			}
			a.audioSrc = newAPUStream(a.m, !a.cfg.AudioStereo, &a.audioMuted, a.cfg.AudioLowLatency)
			if p, err := a.audioCtx.NewPlayer(a.audioSrc); err == nil {
				a.audioPlayer = p
				a.applyPlayerBufferSize()
				a.audioPlayer.Play()
			}
		}
	case row == "adaptive" && !a.editingROMDir:
		if left || right {
			a.cfg.AudioAdaptive = !a.cfg.AudioAdaptive
		}
	case row == "lowlatency" && !a.editingROMDir:
		if left || right || enter {
			a.cfg.AudioLowLatency = !a.cfg.AudioLowLatency
			a.saveSettings()
			if a.m != nil && a.cfg.AudioLowLatency {
				a.m.APUCapBufferedStereo(1440) // ~30ms
			}
			if a.audioSrc != nil {
				a.audioSrc.lowLatency = a.cfg.AudioLowLatency
			}
			a.applyPlayerBufferSize()
		}
	case row == "bgrenderer" && !a.editingROMDir:
		if left || right || enter {
			a.cfg.UseFetcherBG = !a.cfg.UseFetcherBG
			if a.m != nil {
				a.m.SetUseFetcherBG(a.cfg.UseFetcherBG)
			}
			a.saveSettings()
		}
	case row == "romsdir":
		if !a.editingROMDir {
			if enter {
				a.editingROMDir = true
				a.romDirInput = a.cfg.ROMsDir
			}
			if inpututil.IsKeyJustPressed(ebiten.KeyEscape) || inpututil.IsKeyJustPressed(ebiten.KeyBackspace) {
				a.menu = menuMain
			}
		} else {
			for _, r := range ebiten.InputChars() {
				if r != '\n' && r != '\r' {
					a.romDirInput += string(r)
				}
			}
			if inpututil.IsKeyJustPressed(ebiten.KeyBackspace) && len(a.romDirInput) > 0 {
				a.romDirInput = a.romDirInput[:len(a.romDirInput)-1]
			}
			if enter {
				val := strings.TrimSpace(a.romDirInput)
				if val != "" {
					a.cfg.ROMsDir = val
					a.saveSettings()
					a.romList = a.findROMs()
					a.toast("ROMs dir set")
				}
				a.editingROMDir = false
			}
			if inpututil.IsKeyJustPressed(ebiten.KeyEscape) {
				a.editingROMDir = false
				a.romDirInput = a.cfg.ROMsDir
			}
		}
	case row == "cgbcolors" && !a.editingROMDir:
		if left || right || enter {
			if a.m != nil {
				turnOn := !a.m.WantCGBColors()
				if turnOn {
					a.m.SetUseCGBBG(true)
					if a.m.IsCGBCompat() {
						a.m.ResetCGBPostBoot(true)
					}
				} else {
					a.m.SetUseCGBBG(false)
					a.m.ResetPostBoot()
				}
			}
		}
	case row == "comppalette" && hasCompat && !a.editingROMDir:
		if left {
			a.cyclePalette(-1)
		}
		if right || enter {
			a.cyclePalette(+1)
		}
	case row == "shelloverlay" && !a.editingROMDir:
		if left || right || enter {
			a.cfg.ShellOverlay = !a.cfg.ShellOverlay
			if a.cfg.ShellOverlay {
				a.loadShell()
			}
			a.saveSettings()
		}
	case row == "shellskin" && !a.editingROMDir:
		if len(a.shellList) > 0 {
			if left {
				a.shellIdx = (a.shellIdx - 1 + len(a.shellList)) % len(a.shellList)
			} else if right || enter {
				a.shellIdx = (a.shellIdx + 1) % len(a.shellList)
			} else {
				break
			}
			a.cfg.ShellImage = a.shellList[a.shellIdx]
			a.shellImg = nil
			a.loadShell()
			a.saveSettings()
			a.toast("Skin: " + filepath.Base(a.cfg.ShellImage))
		}
	}

	if row != "romsdir" && !a.editingROMDir && (enter || inpututil.IsKeyJustPressed(ebiten.KeyEscape) || inpututil.IsKeyJustPressed(ebiten.KeyBackspace)) {
		a.menu = menuMain
	}
}
