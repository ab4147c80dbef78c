package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"republic/internal/agent/fleet"
	"republic/internal/agent/memory"
	"republic/internal/agent/ports"
	"republic/internal/agent/runtime"
	"republic/internal/agent/trace"
	"republic/internal/config"
	"republic/internal/logging"
	"republic/internal/observability"
	"republic/internal/oracle"
	"republic/internal/runstore"
	"republic/internal/server"
	"republic/internal/toolregistry"
	"republic/internal/tools"
)

// Container wires the runtime and its collaborators for one command.
type Container struct {
	Config   config.RuntimeConfig
	Runtime  *runtime.Runtime
	Files    *trace.FileSink
	Metrics  *observability.MetricsCollector
	Ledger   runstore.Ledger
	Registry *toolregistry.Registry
	Mock     bool

	logger  logging.Logger
	closers []func(context.Context) error
}

type containerOptions struct {
	hub      *server.Hub
	observer func(runtime.Result)
}

type containerOption func(*containerOptions)

func withHub(hub *server.Hub) containerOption {
	return func(o *containerOptions) { o.hub = hub }
}

func withResultObserver(observer func(runtime.Result)) containerOption {
	return func(o *containerOptions) { o.observer = observer }
}

// buildContainer opens sinks, metrics, tracing and the optional run ledger.
func buildContainer(ctx context.Context, cli *CLI, cfg config.RuntimeConfig, opts ...containerOption) (*Container, error) {
	var options containerOptions
	for _, opt := range opts {
		opt(&options)
	}
	c := &Container{
		Config:   cfg,
		Registry: toolregistry.NewDefault(),
		Mock:     cfg.MockMode(),
		logger:   logging.NewComponentLogger("cli"),
	}

	files, err := trace.NewFileSink(cfg.Trace.StoragePath)
	if err != nil {
		return nil, err
	}
	c.Files = files
	sinks := []trace.Sink{files}
	if cfg.Trace.RedisURL != "" {
		client, err := trace.DialRedis(cfg.Trace.RedisURL)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, trace.NewRedisSink(client, trace.WithStream(cfg.Trace.RedisStream)))
		c.closers = append(c.closers, func(context.Context) error { return client.Close() })
	}
	if options.hub != nil {
		sinks = append(sinks, options.hub)
	}

	obsCfg, err := observability.LoadConfig(cli.configPath)
	if err != nil {
		return nil, err
	}
	metrics, err := observability.NewMetricsCollector(obsCfg.Metrics)
	if err != nil {
		return nil, err
	}
	c.Metrics = metrics
	c.closers = append(c.closers, metrics.Shutdown)
	tracer, err := observability.NewTracerProvider(obsCfg.Tracing)
	if err != nil {
		return nil, err
	}
	c.closers = append(c.closers, tracer.Shutdown)

	rtOpts := []runtime.Option{
		runtime.WithSink(trace.MultiSink(sinks...)),
		runtime.WithMetrics(metrics),
		runtime.WithTracer(tracer),
		runtime.WithMemoryOptions(memory.WithTokenizer()),
	}
	if cfg.Store.DSN != "" {
		store, err := runstore.Open(ctx, cfg.Store.DSN)
		if err != nil {
			c.Close()
			return nil, err
		}
		c.Ledger = store
		c.closers = append(c.closers, func(context.Context) error { return store.Close() })
		rtOpts = append(rtOpts, runtime.WithObserver(runstore.Observer(store, logging.NewComponentLogger("runstore"))))
	}
	if options.observer != nil {
		rtOpts = append(rtOpts, runtime.WithObserver(options.observer))
	}
	c.Runtime = runtime.New(rtOpts...)
	return c, nil
}

// Close releases everything the container opened, newest first.
func (c *Container) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](ctx); err != nil {
			c.logger.Warn("shutdown: %v", err)
		}
	}
	c.closers = nil
}

// Oracle builds a fresh oracle. Mock oracles keep per-instance counters, so
// every run gets its own.
func (c *Container) Oracle() (ports.Oracle, error) {
	if c.Mock {
		return oracle.NewMock(0), nil
	}
	llm := c.Config.LLM
	return oracle.NewLLM(oracle.LLMConfig{
		Provider:    llm.Provider,
		BaseURL:     llm.BaseURL,
		APIKey:      llm.APIKey,
		Model:       llm.Model,
		Temperature: llm.Temperature,
		Inventory:   c.Registry.InventoryOf,
		Logger:      logging.NewComponentLogger("oracle"),
	})
}

type closingExecutor struct {
	ports.ToolExecutor
	io.Closer
}

// Executor builds a fresh tool executor. Local executors own an HTTP
// session and must be closed.
func (c *Container) Executor() (ports.ToolExecutor, error) {
	if c.Mock {
		return tools.NewMock(), nil
	}
	ws, err := tools.NewWorkspace(c.Config.Workspace)
	if err != nil {
		return nil, err
	}
	local := tools.NewLocalExecutor(
		tools.WithRegistry(c.Registry),
		tools.WithWorkspace(ws),
		tools.WithSession(tools.NewSession()),
		tools.WithSandbox(tools.NewSandbox(0)),
		tools.WithLogger(logging.NewComponentLogger("tools")),
	)
	cached := toolregistry.NewCacheExecutor(local, toolregistry.DefaultCacheConfig())
	return closingExecutor{ToolExecutor: cached, Closer: local}, nil
}

// Catalog loads agent manifests and districts from the configured directory.
func (c *Container) Catalog() (*config.Catalog, error) {
	catalog, err := config.LoadCatalog(c.Config.Catalog, c.Config.Defaults.Ports())
	if err != nil {
		return nil, fmt.Errorf("load catalog %s: %w", c.Config.Catalog, err)
	}
	return catalog, nil
}

// Fleet returns a runner whose factories build isolated collaborators per
// task.
func (c *Container) Fleet(catalog fleet.Catalog, opts ...fleet.Option) *fleet.Runner {
	return fleet.NewRunner(c.Runtime, catalog,
		func(fleet.Task, ports.Manifest) (ports.Oracle, error) { return c.Oracle() },
		func(fleet.Task, ports.Manifest) (ports.ToolExecutor, error) { return c.Executor() },
		opts...,
	)
}
