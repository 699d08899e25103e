package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/reminator329/trainingbook/internal/api"
	"github.com/reminator329/trainingbook/internal/auth"
	"github.com/reminator329/trainingbook/internal/config"
	"github.com/reminator329/trainingbook/internal/events"
	"github.com/reminator329/trainingbook/internal/graph"
	"github.com/reminator329/trainingbook/internal/logging"
	"github.com/reminator329/trainingbook/internal/store"
	"github.com/reminator329/trainingbook/internal/training"
	httptransport "github.com/reminator329/trainingbook/internal/transport/http"
)

type app struct {
	configPath string
	dataPath   string
	cfg        config.Config
	logger     *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "trainingbook",
		Short:         "Persist and query training logs stored as one JSON document",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "YAML configuration file (overrides "+config.FileEnv+")")
	root.PersistentFlags().StringVarP(&a.dataPath, "data", "d", "", "document path for the file backend (overrides DATA_PATH)")

	root.AddCommand(
		a.initCmd(),
		a.listCmd(),
		a.checkCmd(),
		a.schemaCmd(),
		a.backfillCmd(),
		a.serveCmd(),
	)
	return root
}

func (a *app) setup() error {
	cfg, err := config.LoadFrom(a.configPath)
	if err != nil {
		return err
	}
	if a.dataPath != "" {
		cfg.Store.Backend = config.BackendFile
		cfg.Store.DataPath = a.dataPath
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logger
	return nil
}

func (a *app) openStore(ctx context.Context, opts ...store.Option) (*store.Store, func() error, error) {
	backend, closeBackend, err := openBackend(ctx, a.cfg)
	if err != nil {
		return nil, nil, err
	}
	opts = append(training.StoreOptions(), opts...)
	opts = append(opts, store.WithLogger(a.logger))
	s, err := store.Open(ctx, backend, graph.NewCodec(training.NewRegistry()), training.Collections, opts...)
	if err != nil {
		_ = closeBackend()
		return nil, nil, err
	}
	return s, closeBackend, nil
}

func (a *app) initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the document if missing and report collection sizes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, closeStore, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer closeStore()

			out := cmd.OutOrStdout()
			for _, name := range s.Collections() {
				fmt.Fprintf(out, "%s\t%d\n", name, s.Len(name))
			}
			return nil
		},
	}
}

func (a *app) listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <collection>",
		Short: "Print the records of a collection as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, closeStore, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer closeStore()

			records, err := s.Snapshot(args[0])
			if err != nil {
				return err
			}
			docs := make([]*graph.Document, 0, len(records))
			for _, record := range records {
				doc, err := s.Codec().Encode(record)
				if err != nil {
					return err
				}
				docs = append(docs, doc)
			}
			return writeIndented(cmd.OutOrStdout(), docs)
		},
	}
}

func (a *app) checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Load the document and validate every session against its program",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, closeStore, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer closeStore()

			sessions, err := store.AllOf[*training.Session](s, training.CollectionSessions)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			invalid := 0
			for _, session := range sessions {
				if err := session.Validate(); err != nil {
					invalid++
					fmt.Fprintf(out, "session %s: %v\n", session.ID, err)
				}
			}
			if invalid > 0 {
				return fmt.Errorf("%d of %d sessions are invalid", invalid, len(sessions))
			}
			fmt.Fprintf(out, "%d sessions ok\n", len(sessions))
			return nil
		},
	}
}

func (a *app) schemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON Schema of every record type",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, err := graph.Schema(training.NewRegistry())
			if err != nil {
				return err
			}
			return writeIndented(cmd.OutOrStdout(), schema)
		},
	}
}

func (a *app) backfillCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backfill-ids <in> <out>",
		Short: "Give every record without an id a fresh one",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			out, added, err := store.BackfillDocument(data)
			if err != nil {
				return err
			}
			if err := os.WriteFile(args[1], out, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added %d ids\n", added)
			return nil
		},
	}
}

func (a *app) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the read-only HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			var opts []store.Option
			if a.cfg.PublishEvents() {
				producer := events.NewKafkaProducer(a.cfg.Events.KafkaBrokers)
				defer producer.Close()
				codec := graph.NewCodec(training.NewRegistry())
				opts = append(opts, store.WithListener(events.NewPublisher(producer, codec, a.cfg.Events.Topic, a.logger)))
				a.logger.Info("publishing upserts", zap.Strings("brokers", a.cfg.Events.KafkaBrokers), zap.String("topic", a.cfg.Events.Topic))
			}
			s, closeStore, err := a.openStore(ctx, opts...)
			if err != nil {
				return err
			}
			defer closeStore()

			mux := http.NewServeMux()
			api.NewHandler(s, training.NewService(s), a.logger).RegisterRoutes(mux)
			mux.Handle("GET /metrics", promhttp.Handler())

			middleware := auth.NewMiddleware(auth.Config{Secret: a.cfg.Auth.JWTSecret, Issuer: a.cfg.Auth.JWTIssuer},
				auth.WithLogger(a.logger.Named("auth")))
			server := httptransport.NewServer(httptransport.ServerConfig{
				Address:      a.cfg.HTTP.Address,
				ReadTimeout:  a.cfg.HTTP.Timeout,
				WriteTimeout: a.cfg.HTTP.Timeout,
				IdleTimeout:  4 * a.cfg.HTTP.Timeout,
			}, httptransport.RequestLogger(a.logger, middleware.Wrap(mux)))

			if err := httptransport.Serve(ctx, server, 10*time.Second, a.logger); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
}

func writeIndented(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "    ")
	return enc.Encode(v)
}
