// Package domains wraps the CDP domains cdpboot uses.
package domains

import (
	"context"
	"fmt"

	"github.com/chromedp/cdproto/cdp"
	cdpt "github.com/chromedp/cdproto/target"
)

// Target is the CDP Target domain.
type Target interface {
	CreateTarget(ctx context.Context, url string) (id string, err error)
}

var _ Target = &target{}

type target struct {
	exec cdp.Executor
}

// NewTarget returns a new CDP Target domain wrapper.
func NewTarget(exec cdp.Executor) Target {
	return &target{exec}
}

// CreateTarget opens a new page navigated to url.
func (t *target) CreateTarget(ctx context.Context, url string) (string, error) {
	action := cdpt.CreateTarget(url)
	id, err := action.Do(cdp.WithExecutor(ctx, t.exec))
	if err != nil {
		return "", fmt.Errorf("executing createTarget: %w", err)
	}

	return string(id), nil
}
