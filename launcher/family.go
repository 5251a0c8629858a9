// Package launcher builds browser command lines and starts browser processes
// with a debugging transport wired in.
package launcher

import (
	"fmt"
	"strconv"
	"strings"
)

// Family is the kind of browser being launched.
type Family int

// Browser families.
const (
	Chromium Family = iota + 1
	Gecko
)

func (f Family) String() string {
	switch f {
	case Chromium:
		return "chromium"
	case Gecko:
		return "gecko"
	default:
		return "Family(" + strconv.Itoa(int(f)) + ")"
	}
}

// ParseFamily parses a browser family name.
func ParseFamily(s string) (Family, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "chromium", "chrome":
		return Chromium, nil
	case "gecko", "firefox":
		return Gecko, nil
	default:
		return 0, fmt.Errorf("unknown browser family %q, should be one of: chromium, gecko", s)
	}
}

// WindowSize is the initial browser window size in pixels.
type WindowSize struct {
	Width  int
	Height int
}

func (w WindowSize) String() string {
	return strconv.Itoa(w.Width) + "," + strconv.Itoa(w.Height)
}

// ParseWindowSize parses a "width,height" pair.
func ParseWindowSize(s string) (WindowSize, error) {
	ws, hs, ok := strings.Cut(s, ",")
	if !ok {
		return WindowSize{}, fmt.Errorf("window size %q should be in the form width,height", s)
	}
	w, err := strconv.Atoi(strings.TrimSpace(ws))
	if err != nil {
		return WindowSize{}, fmt.Errorf("parsing window width %q: %w", ws, err)
	}
	h, err := strconv.Atoi(strings.TrimSpace(hs))
	if err != nil {
		return WindowSize{}, fmt.Errorf("parsing window height %q: %w", hs, err)
	}
	if w <= 0 || h <= 0 {
		return WindowSize{}, fmt.Errorf("window size %q must be positive", s)
	}

	return WindowSize{Width: w, Height: h}, nil
}
