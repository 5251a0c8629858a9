package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.k6.io/k6/lib/types"
	"gopkg.in/guregu/null.v3"

	"github.com/cdpboot/cdpboot/bootstrap"
	"github.com/cdpboot/cdpboot/env"
	"github.com/cdpboot/cdpboot/launcher"
	"github.com/cdpboot/cdpboot/transport"
)

func TestFromEnvDefaults(t *testing.T) {
	t.Parallel()

	opts, err := FromEnv(env.EmptyLookup)
	require.NoError(t, err)
	require.NoError(t, opts.Validate())

	assert.Equal(t, "about:blank", opts.URL.String)
	assert.Equal(t, "chromium", opts.Family.String)
	assert.Equal(t, "websocket", opts.Transport.String)
	assert.True(t, opts.Headless.Bool)
	assert.False(t, opts.Headless.Valid)
	assert.Equal(t, bootstrap.DefaultTimeout, opts.LaunchTimeout())
}

func TestFromEnv(t *testing.T) {
	t.Parallel()

	opts, err := FromEnv(env.ConstLookup(map[string]string{
		"CDPBOOT_EXECUTABLE_PATH":     "/usr/bin/firefox",
		"CDPBOOT_DATA_PATH":           "/tmp/p1",
		"CDPBOOT_URL":                 "https://example.com",
		"CDPBOOT_FAMILY":              "firefox",
		"CDPBOOT_TRANSPORT":           "pipe",
		"CDPBOOT_WINDOW_SIZE":         "1280,720",
		"CDPBOOT_HEADLESS":            "false",
		"CDPBOOT_TIMEOUT":             "5s",
		"CDPBOOT_ARGS":                "-safe-mode,-devtools",
		"CDPBOOT_LOG":                 "debug",
		"CDPBOOT_LOG_CATEGORY_FILTER": "^launcher",
		"CDPBOOT_TRACES_METADATA":     "env=ci,team=qa",
	}))
	require.NoError(t, err)
	require.NoError(t, opts.Validate())

	assert.Equal(t, 5*time.Second, opts.LaunchTimeout())
	assert.Equal(t, "debug", opts.LogLevel.String)
	assert.Equal(t, "^launcher", opts.LogCategoryFilter.String)

	md, err := opts.Metadata()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"env": "ci", "team": "qa"}, md)

	req, err := opts.Request()
	require.NoError(t, err)
	assert.Equal(t, bootstrap.Request{
		ExecutablePath: "/usr/bin/firefox",
		DataPath:       "/tmp/p1",
		URL:            "https://example.com",
		WindowSize:     &launcher.WindowSize{Width: 1280, Height: 720},
		Family:         launcher.Gecko,
		Transport:      transport.Stdio,
		Args:           []string{"-safe-mode", "-devtools"},
	}, req)
}

func TestFromEnvInvalidDuration(t *testing.T) {
	t.Parallel()

	_, err := FromEnv(env.ConstLookup(map[string]string{"CDPBOOT_TIMEOUT": "soon"}))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		opts    Options
		wantErr string
	}{
		{
			name:    "family",
			opts:    Options{Family: null.StringFrom("webkit")},
			wantErr: `unknown browser family "webkit"`,
		},
		{
			name:    "transport",
			opts:    Options{Transport: null.StringFrom("carrier-pigeon")},
			wantErr: "carrier-pigeon",
		},
		{
			name:    "window_size",
			opts:    Options{WindowSize: null.StringFrom("800x600")},
			wantErr: "width,height",
		},
		{
			name:    "timeout",
			opts:    Options{Timeout: types.NullDurationFrom(-time.Second)},
			wantErr: "timeout must be positive",
		},
		{
			name:    "metadata",
			opts:    Options{TracesMetadata: null.StringFrom("novalue")},
			wantErr: "key=value",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := NewOptions().Apply(tt.opts).Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)

			_, err = NewOptions().Apply(tt.opts).Request()
			assert.Error(t, err)
		})
	}
}

func TestApplyKeepsDefaultsForEmptyValues(t *testing.T) {
	t.Parallel()

	opts := NewOptions().Apply(Options{
		Family:   null.StringFrom(""),
		URL:      null.StringFrom(""),
		Headless: null.BoolFrom(false),
	})
	assert.Equal(t, "chromium", opts.Family.String)
	assert.Equal(t, "about:blank", opts.URL.String)
	assert.False(t, opts.Headless.Bool)
	assert.True(t, opts.Headless.Valid)
}

func TestRequestChromium(t *testing.T) {
	t.Parallel()

	opts := NewOptions().Apply(Options{
		ExecutablePath: null.StringFrom("/opt/chrome"),
		Args:           null.StringFrom("--lang=de,remote-debugging-port=1"),
	})
	req, err := opts.Request()
	require.NoError(t, err)

	assert.Equal(t, "/opt/chrome", req.ExecutablePath)
	assert.Equal(t, launcher.Chromium, req.Family)
	assert.Equal(t, transport.Websocket, req.Transport)
	assert.Nil(t, req.WindowSize)
	assert.Contains(t, req.Args, "--headless")
	assert.Contains(t, req.Args, "--lang=de")
	for _, a := range req.Args {
		assert.NotContains(t, a, "remote-debugging")
	}
}

func TestRequestArgList(t *testing.T) {
	t.Parallel()

	opts := NewOptions().Apply(Options{
		Family:  null.StringFrom("gecko"),
		Args:    null.StringFrom("-a,-b"),
		ArgList: []string{"-pref=x,y"},
	})
	req, err := opts.Request()
	require.NoError(t, err)
	assert.Equal(t, []string{"-headless", "-pref=x,y"}, req.Args)
}

func TestRequestGeckoSingleDebugFlag(t *testing.T) {
	t.Parallel()

	opts := NewOptions().Apply(Options{
		ExecutablePath: null.StringFrom("/usr/bin/firefox"),
		DataPath:       null.StringFrom("/tmp/p1"),
		Family:         null.StringFrom("gecko"),
		Args:           null.StringFrom("--remote-debugging-port=1"),
	})
	req, err := opts.Request()
	require.NoError(t, err)

	args := launcher.Args(launcher.ArgSpec{
		Family:    req.Family,
		DataPath:  req.DataPath,
		Preamble:  req.Args,
		DebugFlag: transport.PipeFlag,
	})
	assert.NotContains(t, args, "--remote-debugging-port=1")
	assert.Equal(t, transport.PipeFlag, args[len(args)-1])
}
