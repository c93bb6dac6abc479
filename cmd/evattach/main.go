// Command evattach attaches the EV configuration panel to a page that is
// already open in a running browser.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"regexp"
	"syscall"

	"github.com/raterudder/evconf/pkg/attach"
	"github.com/raterudder/evconf/pkg/codec"
	"github.com/raterudder/evconf/pkg/dom/rodpage"
	"github.com/raterudder/evconf/pkg/editor"
	"github.com/raterudder/evconf/pkg/form"
	"github.com/raterudder/evconf/pkg/log"
	"github.com/raterudder/evconf/pkg/source"

	"github.com/levenlabs/go-lflag"
	"github.com/levenlabs/go-llog"
	"golang.org/x/sync/errgroup"
)

func main() {
	remote := source.Configured()
	policy := attach.ConfiguredPolicy()
	browserURL := lflag.String("browser-url", "localhost:9222", "DevTools address of the browser to attach to")
	pagePattern := lflag.String("page-url-pattern", "", "Regular expression matching the URL of the page to attach to (defaults to the upstream url)")
	evconfURL := lflag.String("evconf-url", "http://localhost:8080", "Base URL of the evconf server the panel saves through")

	lflag.Configure()

	level, err := log.LevelFromLLog(llog.GetLevel())
	if err != nil {
		panic(err)
	}
	log.SetDefaultLogLevel(level)
	slog.SetDefault(log.Ctx(context.Background()))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	pattern := *pagePattern
	if pattern == "" {
		pattern = regexp.QuoteMeta(remote.BaseURL())
	}
	if err := run(ctx, remote, *policy, *browserURL, pattern, *evconfURL); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "attach failed", "error", err)
		os.Exit(1)
	}
	log.Ctx(ctx).InfoContext(ctx, "ev configuration panel attached")
}

func run(ctx context.Context, remote *source.Remote, policy attach.RetryPolicy, browserURL, pattern, evconfURL string) error {
	action, err := url.JoinPath(evconfURL, "/ev/save")
	if err != nil {
		return fmt.Errorf("invalid evconf url (%s): %w", evconfURL, err)
	}

	page, err := rodpage.Connect(ctx, browserURL, pattern)
	if err != nil {
		return err
	}
	ctx = log.WithAttrs(ctx, slog.String("page", pattern))

	fields := codec.NewMapFields()
	editor.New(remote, fields).Load(ctx)

	engines, err := form.Engines(page, form.Panel, fields, form.Options{Action: action}, attach.WithRetryPolicy(policy))
	if err != nil {
		return err
	}

	eg, egCtx := errgroup.WithContext(ctx)
	for _, e := range engines {
		eg.Go(func() error {
			return e.Run(egCtx)
		})
	}
	return eg.Wait()
}
