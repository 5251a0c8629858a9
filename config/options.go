// Package config reads the launch options from the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mstoykov/envconfig"
	"go.k6.io/k6/lib/types"
	"gopkg.in/guregu/null.v3"

	"github.com/cdpboot/cdpboot/bootstrap"
	"github.com/cdpboot/cdpboot/chromium"
	"github.com/cdpboot/cdpboot/env"
	"github.com/cdpboot/cdpboot/gecko"
	"github.com/cdpboot/cdpboot/launcher"
	"github.com/cdpboot/cdpboot/transport"
)

// Options are the user facing launch options.
type Options struct {
	ExecutablePath    null.String        `envconfig:"CDPBOOT_EXECUTABLE_PATH"`
	DataPath          null.String        `envconfig:"CDPBOOT_DATA_PATH"`
	URL               null.String        `envconfig:"CDPBOOT_URL"`
	Family            null.String        `envconfig:"CDPBOOT_FAMILY"`
	Transport         null.String        `envconfig:"CDPBOOT_TRANSPORT"`
	WindowSize        null.String        `envconfig:"CDPBOOT_WINDOW_SIZE"`
	Headless          null.Bool          `envconfig:"CDPBOOT_HEADLESS"`
	Timeout           types.NullDuration `envconfig:"CDPBOOT_TIMEOUT"`
	IgnoreDefaultArgs null.String        `envconfig:"CDPBOOT_IGNORE_DEFAULT_ARGS"`

	// Args is a comma separated list of extra browser arguments.
	Args null.String `envconfig:"CDPBOOT_ARGS"`
	// ArgList, when set, replaces Args. Its arguments are taken as is, so
	// they may contain commas.
	ArgList []string `ignored:"true"`

	LogLevel          null.String `envconfig:"CDPBOOT_LOG"`
	LogCaller         null.Bool   `envconfig:"CDPBOOT_LOG_CALLER"`
	LogCategoryFilter null.String `envconfig:"CDPBOOT_LOG_CATEGORY_FILTER"`
	Debug             null.Bool   `envconfig:"CDPBOOT_DEBUG"`

	TracesEndpoint null.String `envconfig:"CDPBOOT_TRACES_ENDPOINT"`
	TracesInsecure null.Bool   `envconfig:"CDPBOOT_TRACES_INSECURE"`
	// TracesMetadata is a comma separated list of key=value span attributes.
	TracesMetadata null.String `envconfig:"CDPBOOT_TRACES_METADATA"`
}

// NewOptions returns Options with the default values.
func NewOptions() Options {
	return Options{
		URL:       null.NewString("about:blank", false),
		Family:    null.NewString(launcher.Chromium.String(), false),
		Transport: null.NewString(transport.Websocket.String(), false),
		Headless:  null.NewBool(true, false),
		Timeout:   types.NewNullDuration(bootstrap.DefaultTimeout, false),
		LogLevel:  null.NewString("info", false),
	}
}

// FromEnv returns the default Options overridden by the environment
// variables found with lookup.
func FromEnv(lookup env.LookupFunc) (Options, error) {
	var envOpts Options
	if err := envconfig.Process("", &envOpts, lookup); err != nil {
		return Options{}, fmt.Errorf("reading environment: %w", err)
	}

	return NewOptions().Apply(envOpts), nil
}

// Apply saves the valid values of opts in the receiver.
//
//nolint:cyclop
func (o Options) Apply(opts Options) Options {
	if opts.ExecutablePath.Valid {
		o.ExecutablePath = opts.ExecutablePath
	}
	if opts.DataPath.Valid {
		o.DataPath = opts.DataPath
	}
	if opts.URL.Valid && opts.URL.String != "" {
		o.URL = opts.URL
	}
	if opts.Family.Valid && opts.Family.String != "" {
		o.Family = opts.Family
	}
	if opts.Transport.Valid && opts.Transport.String != "" {
		o.Transport = opts.Transport
	}
	if opts.WindowSize.Valid {
		o.WindowSize = opts.WindowSize
	}
	if opts.Headless.Valid {
		o.Headless = opts.Headless
	}
	if opts.Timeout.Valid {
		o.Timeout = opts.Timeout
	}
	if opts.Args.Valid {
		o.Args = opts.Args
	}
	if opts.ArgList != nil {
		o.ArgList = append([]string(nil), opts.ArgList...)
	}
	if opts.IgnoreDefaultArgs.Valid {
		o.IgnoreDefaultArgs = opts.IgnoreDefaultArgs
	}
	if opts.LogLevel.Valid && opts.LogLevel.String != "" {
		o.LogLevel = opts.LogLevel
	}
	if opts.LogCaller.Valid {
		o.LogCaller = opts.LogCaller
	}
	if opts.LogCategoryFilter.Valid {
		o.LogCategoryFilter = opts.LogCategoryFilter
	}
	if opts.Debug.Valid {
		o.Debug = opts.Debug
	}
	if opts.TracesEndpoint.Valid {
		o.TracesEndpoint = opts.TracesEndpoint
	}
	if opts.TracesInsecure.Valid {
		o.TracesInsecure = opts.TracesInsecure
	}
	if opts.TracesMetadata.Valid {
		o.TracesMetadata = opts.TracesMetadata
	}

	return o
}

// Validate reports every invalid option.
func (o Options) Validate() error {
	var errs []error
	if _, err := launcher.ParseFamily(o.Family.String); err != nil {
		errs = append(errs, err)
	}
	if _, err := transport.ParseKind(o.Transport.String); err != nil {
		errs = append(errs, err)
	}
	if o.WindowSize.String != "" {
		if _, err := launcher.ParseWindowSize(o.WindowSize.String); err != nil {
			errs = append(errs, err)
		}
	}
	if o.Timeout.Valid && o.Timeout.TimeDuration() <= 0 {
		errs = append(errs, fmt.Errorf("timeout must be positive, got %s", o.Timeout.Duration))
	}
	if _, err := o.Metadata(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// LaunchTimeout is the deadline shared by the spawn and connect stages.
func (o Options) LaunchTimeout() time.Duration {
	if !o.Timeout.Valid || o.Timeout.TimeDuration() <= 0 {
		return bootstrap.DefaultTimeout
	}
	return o.Timeout.TimeDuration()
}

// Metadata returns the trace metadata key value pairs.
func (o Options) Metadata() (map[string]string, error) {
	md := make(map[string]string)
	for _, kv := range env.ParseList(o.TracesMetadata.String) {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("trace metadata %q should be in the form key=value", kv)
		}
		md[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}

	return md, nil
}

// Request returns the bootstrap request the options describe. A missing
// executable path is looked up among the well known browser locations.
func (o Options) Request() (bootstrap.Request, error) {
	if err := o.Validate(); err != nil {
		return bootstrap.Request{}, err
	}
	family, _ := launcher.ParseFamily(o.Family.String)
	kind, _ := transport.ParseKind(o.Transport.String)

	req := bootstrap.Request{
		ExecutablePath: o.ExecutablePath.String,
		DataPath:       o.DataPath.String,
		URL:            o.URL.String,
		Family:         family,
		Transport:      kind,
	}
	if o.WindowSize.String != "" {
		ws, _ := launcher.ParseWindowSize(o.WindowSize.String)
		req.WindowSize = &ws
	}

	args := o.ArgList
	if args == nil {
		args = env.ParseList(o.Args.String)
	}
	switch family {
	case launcher.Chromium:
		if req.ExecutablePath == "" {
			req.ExecutablePath = chromium.ExecutablePath()
		}
		flags, err := chromium.DefaultArgs(chromium.FlagOptions{
			Headless:          o.Headless.Bool,
			UserDataDir:       o.DataPath.String,
			IgnoreDefaultArgs: env.ParseList(o.IgnoreDefaultArgs.String),
			Args:              args,
		})
		if err != nil {
			return bootstrap.Request{}, err //nolint:wrapcheck
		}
		req.Args = flags
	case launcher.Gecko:
		if req.ExecutablePath == "" {
			req.ExecutablePath = gecko.ExecutablePath()
		}
		if o.Headless.Bool {
			req.Args = append(req.Args, "-headless")
		}
		req.Args = append(req.Args, args...)
	}

	return req, nil
}
