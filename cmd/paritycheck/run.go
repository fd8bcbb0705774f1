package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pitabwire/checkoutparity/internal/client"
	"github.com/pitabwire/checkoutparity/internal/fixture"
	"github.com/pitabwire/checkoutparity/internal/observability"
	"github.com/pitabwire/checkoutparity/internal/scenario"
	"github.com/pitabwire/checkoutparity/internal/transport"
	"github.com/pitabwire/checkoutparity/internal/twin"
)

type runOptions struct {
	suite     string
	format    string
	inProcess bool
}

func newRunCmd(root *rootOptions) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a scenario suite and print a report",
		Long: `Run loads a YAML suite, runs every scenario against the configured
REST and GraphQL targets (BASE_URL_REST, BASE_URL_GRAPHQL) and prints a report.
It exits non-zero when any scenario fails.

With --in-process the reference service is started on a loopback port and
used as the target; controller-isolated scenarios are only available then.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSuite(cmd, root, opts)
		},
	}
	cmd.Flags().StringVar(&opts.suite, "suite", "", "path to a suite file")
	cmd.Flags().StringVar(&opts.format, "format", "text", "report format: text or json")
	cmd.Flags().BoolVar(&opts.inProcess, "in-process", false, "run against an in-process reference service")
	_ = cmd.MarkFlagRequired("suite")
	return cmd
}

func runSuite(cmd *cobra.Command, root *rootOptions, opts *runOptions) error {
	if opts.format != "text" && opts.format != "json" {
		return fmt.Errorf("unknown format %q (text, json)", opts.format)
	}

	cfg, logger, err := root.load()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "paritycheck", version)
	if err != nil {
		return err
	}
	defer func() {
		if err := tracingShutdown(context.WithoutCancel(ctx)); err != nil {
			logger.Error("tracing shutdown error", zap.Error(err))
		}
	}()

	metrics := observability.InitMetrics(prometheus.NewRegistry())

	fixtures, err := fixture.OpenOrEmbedded(cfg.Fixtures.Directory)
	if err != nil {
		return err
	}
	suite, err := scenario.LoadFile(opts.suite)
	if err != nil {
		return err
	}
	if err := scenario.Validate(suite, fixtures); err != nil {
		return err
	}

	var runnerOpts []scenario.Option
	restURL, graphqlURL := cfg.Targets.RESTBaseURL, cfg.Targets.GraphQLBaseURL
	if opts.inProcess {
		tw, err := twin.New(cfg, metrics, logger)
		if err != nil {
			return err
		}
		router, err := transport.NewRouter(transport.Dependencies{
			Config:    cfg,
			Services:  tw.Services(),
			Logger:    logger,
			Metrics:   metrics,
			UserStore: tw.Store,
			JWKS:      tw.Tokens.JWKS,
		})
		if err != nil {
			return err
		}
		host, err := transport.StartHost("127.0.0.1:0", router, logger)
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := host.Close(shutdownCtx); err != nil {
				logger.Error("reference service shutdown error", zap.Error(err))
			}
		}()
		restURL, graphqlURL = host.URL(), host.URL()
		runnerOpts = append(runnerOpts, scenario.WithServices(tw.Services()))
	} else if err := cfg.RequireTargets(); err != nil {
		return err
	}

	c := client.New(restURL, graphqlURL,
		client.WithTimeout(cfg.Client.Timeout),
		client.WithGraphQLPath(cfg.Targets.GraphQLPath),
		client.WithMetrics(metrics),
		client.WithLogger(logger),
	)
	runnerOpts = append(runnerOpts, scenario.WithMetrics(metrics), scenario.WithLogger(logger))
	runner, err := scenario.New(cfg, c, fixtures, runnerOpts...)
	if err != nil {
		return err
	}

	logger.Info("suite started",
		zap.String("suite", suite.Name),
		zap.String("file", suite.SourceFile),
		zap.Int("scenarios", len(suite.Scenarios)),
		zap.Bool("in_process", opts.inProcess),
	)
	rep := runner.RunSuite(ctx, suite.Scenarios)
	rep.Suite = suite.Name
	logger.Info("suite finished",
		zap.Int("passed", rep.Passed),
		zap.Int("failed", rep.Failed),
		zap.Duration("duration", rep.Duration),
	)

	out := cmd.OutOrStdout()
	if opts.format == "json" {
		err = rep.WriteJSON(out)
	} else {
		err = rep.WriteText(out)
	}
	if err != nil {
		return err
	}
	if !rep.OK() {
		return errSuiteFailed
	}
	return nil
}
