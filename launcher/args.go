package launcher

import (
	"strings"

	"github.com/cdpboot/cdpboot/gecko"
)

// ArgSpec describes a browser command line.
type ArgSpec struct {
	Family     Family
	DataPath   string
	WindowSize *WindowSize
	// Preamble holds caller supplied arguments. They're placed after the
	// family's own arguments and before the debug flag. Debugging and
	// window size flags in it are dropped.
	Preamble []string
	// DebugFlag enables remote debugging and always ends the command line.
	DebugFlag string
}

// Args returns the argument vector, without the executable, for spec.
func Args(spec ArgSpec) []string {
	preamble := filterPreamble(spec.Preamble)
	args := make([]string, 0, len(preamble)+8)

	switch spec.Family {
	case Gecko:
		args = append(args, "-app", gecko.ProfilePaths(spec.DataPath).ApplicationINI)
		if spec.WindowSize != nil {
			args = append(args, "-window-size", spec.WindowSize.String())
		}
		args = append(args, "-profile", spec.DataPath, "-new-instance")
		args = append(args, preamble...)
	default:
		args = append(args, preamble...)
		if spec.WindowSize != nil {
			args = append(args, "--window-size="+spec.WindowSize.String())
		}
	}

	return append(args, spec.DebugFlag)
}

// filterPreamble drops the flags Args owns. A reserved flag given without
// "=" takes the following argument as its value, unless that's a flag too.
func filterPreamble(preamble []string) []string {
	filtered := make([]string, 0, len(preamble))
	for i := 0; i < len(preamble); i++ {
		name, hasValue := reservedFlag(preamble[i])
		if name == "" {
			filtered = append(filtered, preamble[i])
			continue
		}
		if !hasValue && name != "remote-debugging-pipe" &&
			i+1 < len(preamble) && !strings.HasPrefix(preamble[i+1], "-") {
			i++
		}
	}

	return filtered
}

// reservedFlag returns the name of arg if it's a debugging or window size
// flag, in either the single or double dash form.
func reservedFlag(arg string) (name string, hasValue bool) {
	if !strings.HasPrefix(arg, "-") {
		return "", false
	}
	name, _, hasValue = strings.Cut(strings.TrimLeft(arg, "-"), "=")
	switch name {
	case "remote-debugging-port", "remote-debugging-pipe", "window-size":
		return name, hasValue
	default:
		return "", false
	}
}
