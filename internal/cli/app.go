package cli

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/PipeOpsHQ/opsbrain/actions"
	"github.com/PipeOpsHQ/opsbrain/files"
	"github.com/PipeOpsHQ/opsbrain/internal/config"
	"github.com/PipeOpsHQ/opsbrain/news"
	"github.com/PipeOpsHQ/opsbrain/notify"
	"github.com/PipeOpsHQ/opsbrain/observe"
	otelsink "github.com/PipeOpsHQ/opsbrain/observe/otel"
	"github.com/PipeOpsHQ/opsbrain/policy"
	"github.com/PipeOpsHQ/opsbrain/runtime/automation"
	"github.com/PipeOpsHQ/opsbrain/store/factory"
	"github.com/PipeOpsHQ/opsbrain/tools"
)

// app is the composed process: stores, policy, tools, the action service
// and the scheduler, all built from one Settings value.
type app struct {
	settings  config.Settings
	stores    *factory.Stores
	policy    *policy.Engine
	notifier  *notify.Notifier
	registry  *tools.Registry
	actions   *actions.Service
	scheduler *automation.Scheduler
	sink      *observe.AsyncSink
	tracer    *sdktrace.TracerProvider
	now       func() time.Time
}

// appOptions lets tests swap collaborators that would otherwise reach the
// network.
type appOptions struct {
	email     tools.EmailFetcher
	headlines tools.HeadlineSource
	publisher notify.Publisher
	now       func() time.Time
}

func buildApp(settings config.Settings, opts appOptions) (*app, error) {
	if opts.now == nil {
		opts.now = time.Now
	}
	stores, err := factory.Open(settings)
	if err != nil {
		return nil, err
	}
	a := &app{settings: settings, stores: stores, now: opts.now}

	sinks := []observe.Sink{observe.LogSink{}}
	if settings.OTelEnabled {
		a.tracer = otelsink.NewTracerProvider(sdktrace.WithBatcher(otelsink.LogExporter{}))
		otel.SetTracerProvider(a.tracer)
		sinks = append(sinks, otelsink.NewSink(a.tracer))
	}
	a.sink = observe.NewAsyncSink(observe.NewMultiSink(sinks...), 256)

	a.policy = policy.NewEngine(policy.Config{ScanRoots: settings.AllowedScanRoots})

	notifyOpts := []notify.Option{notify.WithSink(a.sink)}
	if stores.Claimer != nil {
		notifyOpts = append(notifyOpts, notify.WithClaimer(stores.Claimer))
	}
	if opts.publisher != nil {
		notifyOpts = append(notifyOpts, notify.WithPublisher(opts.publisher))
	}
	a.notifier = notify.New(notify.Config{
		Provider: settings.NotifyProvider,
		BaseURL:  settings.NtfyURL,
		Topic:    settings.NtfyTopic,
	}, a.policy, stores.SQLite, notifyOpts...)

	headlines := opts.headlines
	if headlines == nil {
		headlines = news.NewFeedSource()
	}

	a.registry = tools.NewRegistry(a.policy)
	if err := tools.RegisterBuiltins(a.registry, tools.Deps{
		Policy:           a.policy,
		Scanner:          files.NewScanner(),
		Email:            opts.email,
		News:             headlines,
		Tasks:            stores.SQLite,
		Notifier:         a.notifier,
		DefaultScanPaths: settings.ScanPaths(),
		Now:              opts.now,
	}); err != nil {
		_ = a.Close()
		return nil, err
	}

	a.actions = actions.NewService(stores.SQLite, a.registry,
		actions.WithSink(a.sink),
		actions.WithAutoExecute(settings.ExecutionMode == config.ModeOperate),
	)

	jobs, err := automation.ConfigFromSettings(settings)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.scheduler = automation.New(a.actions, jobs, automation.WithSink(a.sink))
	return a, nil
}

func (a *app) Close() error {
	var errs []error
	if a.sink != nil {
		a.sink.Close()
	}
	if a.tracer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		errs = append(errs, a.tracer.Shutdown(ctx))
		cancel()
	}
	if a.stores != nil {
		errs = append(errs, a.stores.Close())
	}
	err := errors.Join(errs...)
	if err != nil {
		log.Warn().Str("component", "cli").Err(err).Msg("shutdown_incomplete")
	}
	return err
}
