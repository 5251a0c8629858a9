// Package browserprocess keeps track of the browser processes started by
// cdpboot so they can be killed when cdpboot has to bail out.
package browserprocess

import (
	"context"
	"os"
	"strconv"
	"sync"

	"github.com/cdpboot/cdpboot/log"
)

type processState struct {
	pid      int
	launchID string
}

var (
	browserProcessRegister   = map[string]*processState{} //nolint:gochecknoglobals
	browserProcessRegisterMu = sync.Mutex{}               //nolint:gochecknoglobals
)

// Register records a browser process started for the launch in ctx and
// returns the key to unregister it with.
func Register(ctx context.Context, logger *log.Logger, pid int) string {
	browserProcessRegisterMu.Lock()
	defer browserProcessRegisterMu.Unlock()

	id := GetLaunchID(ctx)
	key := strconv.Itoa(pid) + ":" + id

	logger.Debugf("browserprocess:Register", "registered pid %d for launch %q", pid, id)

	browserProcessRegister[key] = &processState{pid: pid, launchID: id}

	return key
}

// Unregister forgets the process registered under key.
func Unregister(key string) {
	browserProcessRegisterMu.Lock()
	defer browserProcessRegisterMu.Unlock()

	delete(browserProcessRegister, key)
}

// Registered returns the PIDs registered for the launch in ctx, or every
// registered PID if ctx carries no launch ID.
func Registered(ctx context.Context) []int {
	browserProcessRegisterMu.Lock()
	defer browserProcessRegisterMu.Unlock()

	id := GetLaunchID(ctx)
	var pids []int
	for _, v := range browserProcessRegister {
		if id != "" && v.launchID != id {
			continue
		}
		pids = append(pids, v.pid)
	}

	return pids
}

// ForceProcessShutdown kills the processes of the launch in ctx, or every
// registered process if ctx carries no launch ID. It should be called when
// cdpboot has to shut down because of an internal error.
func ForceProcessShutdown(ctx context.Context) {
	browserProcessRegisterMu.Lock()
	defer browserProcessRegisterMu.Unlock()

	id := GetLaunchID(ctx)

	for k, v := range browserProcessRegister {
		if id != "" && v.launchID != id {
			continue
		}
		delete(browserProcessRegister, k)

		p, err := os.FindProcess(v.pid)
		if err != nil {
			// optimistically continue and don't kill the process
			continue
		}
		// no need to check the error as we're already dying.
		_ = p.Kill()
	}
}
