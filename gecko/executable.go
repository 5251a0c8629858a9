package gecko

import (
	"os"
	"os/exec"
	"path/filepath"
)

// ExecutablePath returns the first Gecko browser found on the system,
// or an empty string.
func ExecutablePath() string {
	for _, path := range [...]string{
		// Unix-like
		"firefox",
		"firefox-esr",
		"firefox-developer-edition",
		"firefox-nightly",
		"/usr/bin/firefox",
		"/usr/lib/firefox/firefox",

		// Windows
		"firefox.exe",
		`C:\Program Files\Mozilla Firefox\firefox.exe`,
		`C:\Program Files (x86)\Mozilla Firefox\firefox.exe`,
		filepath.Join(os.Getenv("LOCALAPPDATA"), `Mozilla Firefox\firefox.exe`),

		// Mac
		"/Applications/Firefox.app/Contents/MacOS/firefox",
		"/Applications/Firefox Nightly.app/Contents/MacOS/firefox",
	} {
		if _, err := exec.LookPath(path); err == nil {
			return path
		}
	}

	return ""
}
