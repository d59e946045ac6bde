package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/saveflow/internal/estimate"
	"github.com/sells-group/saveflow/internal/events"
	"github.com/sells-group/saveflow/internal/flow"
	"github.com/sells-group/saveflow/internal/flowcfg"
	"github.com/sells-group/saveflow/internal/store"
)

// env bundles the collaborators a command needs, wired from config.
type env struct {
	Store    store.Store
	Resolver *flowcfg.Resolver
	Engine   *flow.Engine
	Events   events.Sink
}

func (e *env) Close() {
	if e.Events != nil {
		_ = e.Events.Close()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// openStore creates the configured store backend.
func openStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &cfg.Store.Pool)
	case "sqlite":
		return store.NewSQLite(cfg.Store.SQLitePath)
	case "memory":
		return store.NewMemory(), nil
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// openSink creates the configured event sink.
func openSink() (events.Sink, error) {
	switch cfg.Events.Sink {
	case "kafka":
		return events.NewKafkaSink(events.KafkaConfig{
			Brokers:       cfg.Events.Brokers,
			Topic:         cfg.Events.Topic,
			PublishPerSec: cfg.Events.PublishPerSec,
		}), nil
	case "log", "":
		return events.NewLogSink(), nil
	default:
		return nil, eris.Errorf("unknown event sink %q", cfg.Events.Sink)
	}
}

// initEnv wires the full engine stack for serving commands.
func initEnv(ctx context.Context) (*env, error) {
	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}

	sink, err := openSink()
	if err != nil {
		st.Close()
		return nil, err
	}

	resolver := flowcfg.NewResolver(st)
	engine := flow.NewEngine(st, resolver, estimate.NewRetentionEstimator(st), sink)

	return &env{
		Store:    st,
		Resolver: resolver,
		Engine:   engine,
		Events:   sink,
	}, nil
}
