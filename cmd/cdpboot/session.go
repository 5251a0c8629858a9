package main

import (
	"context"
	"fmt"

	cdpb "github.com/chromedp/cdproto/browser"
	cdpext "github.com/chromedp/cdproto/cdp"

	"github.com/cdpboot/cdpboot/api"
	"github.com/cdpboot/cdpboot/cdp"
	"github.com/cdpboot/cdpboot/cdp/domains"
	"github.com/cdpboot/cdpboot/launcher"
	"github.com/cdpboot/cdpboot/log"
)

// session is a connected browser, as handed over by the launch.
type session struct {
	conn api.Connection
	proc api.Process
	role string

	product  string
	protocol string
	targetID string
}

func (s *session) close(ctx context.Context) error {
	if err := cdpb.Close().Do(cdpext.WithExecutor(ctx, s.conn)); err != nil {
		return fmt.Errorf("executing Browser.close: %w", err)
	}
	return nil
}

// done is closed when the connection to the browser is lost, nil if the
// connection can't tell.
func (s *session) done() (<-chan struct{}, func() error) {
	c, ok := s.conn.(interface {
		Done() <-chan struct{}
		Err() error
	})
	if !ok {
		return nil, nil
	}
	return c.Done(), c.Err
}

// browserVersion returns the version the client got during its handshake,
// and asks the browser for other connections.
func browserVersion(ctx context.Context, conn api.Connection) (cdp.Version, error) {
	if c, ok := conn.(interface{ Version() cdp.Version }); ok {
		return c.Version(), nil
	}
	protocol, product, revision, userAgent, jsVersion, err := cdpb.GetVersion().Do(cdpext.WithExecutor(ctx, conn))
	if err != nil {
		return cdp.Version{}, fmt.Errorf("executing Browser.getVersion: %w", err)
	}
	return cdp.Version{
		Protocol:  protocol,
		Product:   product,
		Revision:  revision,
		UserAgent: userAgent,
		JSVersion: jsVersion,
	}, nil
}

// newInjector returns the injector taking over launched browsers. It opens
// url in Chromium browsers, Gecko browsers are started with it.
func newInjector(logger *log.Logger, family launcher.Family, url string) api.Injector {
	return api.InjectorFunc(func(
		ctx context.Context, conn api.Connection, proc api.Process, role string, _ any,
	) (any, error) {
		v, err := browserVersion(ctx, conn)
		if err != nil {
			return nil, fmt.Errorf("getting browser version: %w", err)
		}
		logger.Infof("cdpboot", "connected to %s as %s, protocol %s, pid %d", v.Product, role, v.Protocol, proc.Pid())

		sess := &session{
			conn:     conn,
			proc:     proc,
			role:     role,
			product:  v.Product,
			protocol: v.Protocol,
		}
		if family != launcher.Chromium || url == "" {
			return sess, nil
		}
		targets := domains.NewTarget(conn)
		if c, ok := conn.(*cdp.Client); ok {
			targets = c.Target
		}
		if sess.targetID, err = targets.CreateTarget(ctx, url); err != nil {
			return nil, err //nolint:wrapcheck
		}
		logger.Debugf("cdpboot", "opened %q in target %s", url, sess.targetID)

		return sess, nil
	})
}
