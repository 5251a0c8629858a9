// Package chromium knows where Chromium based browsers live and which flags
// they're best started with for automation.
package chromium

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
)

// ExecutablePath returns the first Chromium based browser found on the
// system, or an empty string.
func ExecutablePath() string {
	for _, path := range [...]string{
		// Unix-like
		"headless_shell",
		"headless-shell",
		"chromium",
		"chromium-browser",
		"google-chrome",
		"google-chrome-stable",
		"google-chrome-beta",
		"google-chrome-unstable",
		"/usr/bin/google-chrome",

		// Windows
		"chrome",
		"chrome.exe", // in case PATHEXT is misconfigured
		`C:\Program Files (x86)\Google\Chrome\Application\chrome.exe`,
		`C:\Program Files\Google\Chrome\Application\chrome.exe`,
		filepath.Join(os.Getenv("USERPROFILE"), `AppData\Local\Google\Chrome\Application\chrome.exe`),

		// Mac
		"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
		"/Applications/Chromium.app/Contents/MacOS/Chromium",
	} {
		if _, err := exec.LookPath(path); err == nil {
			return path
		}
	}

	return ""
}

// FlagOptions tunes the default flags.
type FlagOptions struct {
	Headless bool
	// UserDataDir is passed as --user-data-dir when set.
	UserDataDir string
	// IgnoreDefaultArgs lists default flags to leave out.
	IgnoreDefaultArgs []string
	// Args are "name[=value]" flags overriding the defaults.
	Args []string
}

// flags the launcher is in charge of.
var reservedFlags = [...]string{ //nolint:gochecknoglobals
	"remote-debugging-port",
	"remote-debugging-pipe",
	"window-size",
}

// DefaultArgs returns the command line flags a Chromium browser is started
// with, sorted by name. The debugging transport and window size flags are
// never part of it.
func DefaultArgs(opts FlagOptions) ([]string, error) {
	return parseArgs(prepareFlags(opts))
}

func prepareFlags(opts FlagOptions) map[string]any {
	// After Puppeteer's and Playwright's default behavior.
	f := map[string]any{
		"disable-background-networking":                      true,
		"enable-features":                                    "NetworkService,NetworkServiceInProcess",
		"disable-background-timer-throttling":                true,
		"disable-backgrounding-occluded-windows":             true,
		"disable-breakpad":                                   true,
		"disable-component-extensions-with-background-pages": true,
		"disable-default-apps":                               true,
		"disable-dev-shm-usage":                              true,
		"disable-extensions":                                 true,
		//nolint:lll
		"disable-features":                "ImprovedCookieControls,LazyFrameLoading,GlobalMediaControls,DestroyProfileOnBrowserClose,MediaRouter,AcceptCHFrame",
		"disable-hang-monitor":            true,
		"disable-ipc-flooding-protection": true,
		"disable-popup-blocking":          true,
		"disable-prompt-on-repost":        true,
		"disable-renderer-backgrounding":  true,
		"force-color-profile":             "srgb",
		"metrics-recording-only":          true,
		"no-first-run":                    true,
		"enable-automation":               true,
		"password-store":                  "basic",
		"use-mock-keychain":               true,
		"no-service-autorun":              true,

		"no-startup-window":        true,
		"no-default-browser-check": true,
		"headless":                 opts.Headless,
	}
	if opts.Headless {
		f["hide-scrollbars"] = true
		f["mute-audio"] = true
		f["blink-settings"] = "primaryHoverType=2,availableHoverTypes=2,primaryPointerType=4,availablePointerTypes=4"
	}
	if opts.UserDataDir != "" {
		f["user-data-dir"] = opts.UserDataDir
	}
	if os.Getuid() == 0 {
		// Running as root, for example in a Linux container. Chromium
		// needs --no-sandbox when running as root.
		f["no-sandbox"] = true
	}
	ignoreDefaultArgsFlags(f, opts.IgnoreDefaultArgs)
	setFlagsFromArgs(f, opts.Args)

	for _, name := range reservedFlags {
		delete(f, name)
	}

	return f
}

// ignoreDefaultArgsFlags ignores any flags in the provided slice.
func ignoreDefaultArgsFlags(flags map[string]any, toIgnore []string) {
	for _, name := range toIgnore {
		delete(flags, strings.TrimPrefix(name, "--"))
	}
}

// setFlagsFromArgs fills flags by parsing the args slice. A flag without a
// value is switched on.
func setFlagsFromArgs(flags map[string]any, args []string) {
	for _, arg := range args {
		pair := strings.SplitN(strings.TrimPrefix(strings.TrimSpace(arg), "--"), "=", 2)
		name := strings.TrimSpace(pair[0])
		if name == "" {
			continue
		}
		if len(pair) == 1 {
			flags[name] = true
			continue
		}
		flags[name] = trimQuotes(strings.TrimSpace(pair[1]))
	}
}

func trimQuotes(s string) string {
	if len(s) >= 2 {
		if c := s[len(s)-1]; s[0] == c && (c == '"' || c == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

// parseArgs turns flags into command line arguments.
func parseArgs(flags map[string]any) ([]string, error) {
	names := make([]string, 0, len(flags))
	for name := range flags {
		names = append(names, name)
	}
	sort.Strings(names)

	args := make([]string, 0, len(names))
	for _, name := range names {
		switch value := flags[name].(type) {
		case string:
			args = append(args, fmt.Sprintf("--%s=%s", name, value))
		case bool:
			if value {
				args = append(args, fmt.Sprintf("--%s", name))
			}
		default:
			return nil, fmt.Errorf(`invalid browser command line flag: "%s=%v"`, name, value)
		}
	}

	return args, nil
}
