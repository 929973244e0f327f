package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/life-stream-dev/life-stream-go-mqtt-core/internal/admin"
	"github.com/life-stream-dev/life-stream-go-mqtt-core/internal/config"
	"github.com/life-stream-dev/life-stream-go-mqtt-core/internal/database"
	"github.com/life-stream-dev/life-stream-go-mqtt-core/internal/dispatcher"
	"github.com/life-stream-dev/life-stream-go-mqtt-core/internal/event"
	"github.com/life-stream-dev/life-stream-go-mqtt-core/internal/hook"
	"github.com/life-stream-dev/life-stream-go-mqtt-core/internal/logger"
	"github.com/life-stream-dev/life-stream-go-mqtt-core/internal/rpc"
	"github.com/life-stream-dev/life-stream-go-mqtt-core/internal/server"
	"github.com/life-stream-dev/life-stream-go-mqtt-core/internal/session"
	"github.com/life-stream-dev/life-stream-go-mqtt-core/internal/utils"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "mqtt-broker",
	Short: "Life Stream MQTT 3.1.1 broker.",
	Long:  `Life Stream MQTT broker accepts MQTT 3.1.1 clients and routes QoS 0 and QoS 1 messages between them.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if _, err := config.ReadConfig(cfgFile); err != nil {
			return fmt.Errorf("error occured while reading config: %w", err)
		}
		return nil
	},
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", config.DefaultPath, "config file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func sessionOptions(cfg config.BrokerConfig) session.Options {
	return session.Options{
		MaxQueued:         cfg.MaxQueuedMessages,
		MaxInflight:       cfg.MaxInflight,
		QueueBlockTimeout: utils.ParseStringTime(cfg.QueueBlockTimeout),
		RetryInterval:     utils.ParseStringTime(cfg.RetryInterval),
		RetryMaxInterval:  utils.ParseStringTime(cfg.RetryMaxInterval),
		MaxRetries:        cfg.MaxRetries,
	}
}

func buildValidator(ctx context.Context, cfg config.Config, cleaner *event.Cleaner) (hook.Validator, error) {
	validators := hook.Chain{hook.NewAllowList(cfg.Auth.AllowedClientIDs, cfg.Auth.AllowedUsernames)}
	if !cfg.Database.Enabled {
		if cfg.Auth.UseDatabase {
			logger.Warn("auth.use_database is set but the database is disabled, ignoring")
		}
		return validators, nil
	}

	dbCallback, err := database.ConnectDatabase(ctx)
	if err != nil {
		return nil, fmt.Errorf("error occured while initializing database: %w", err)
	}
	cleaner.Add(dbCallback)
	if cfg.Auth.UseDatabase {
		store := database.NewDatabaseStore(database.Clients, database.OperationTimeout)
		validators = append(validators, hook.NewStoreAllowList(store))
	}
	return validators, nil
}

func scheduleJanitor(scheduler *event.Scheduler, registry *session.Registry, connections interface{ Count() int }, cfg config.BrokerConfig) error {
	expiry := utils.ParseStringTime(cfg.SessionExpiry)
	return scheduler.Add("session-janitor", cfg.JanitorSchedule, func() {
		if expiry > 0 {
			if expired := registry.ExpireOffline(expiry, time.Now()); len(expired) > 0 {
				logger.InfoF("Expired %d offline sessions idle for more than %s", len(expired), expiry)
			}
		}
		stats := registry.Stats()
		logger.InfoF("Sessions: %s (%s online), connections: %s, subscriptions: %s, queued: %s, inflight: %s",
			humanize.Comma(int64(stats.Sessions)),
			humanize.Comma(int64(stats.Connected)),
			humanize.Comma(int64(connections.Count())),
			humanize.Comma(int64(stats.Subscriptions)),
			humanize.Comma(int64(stats.Queued)),
			humanize.Comma(int64(stats.Inflight)),
		)
	})
}

func listen(name, addr string) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("unable to listen for %s on %s: %w", name, addr, err)
	}
	return ln, nil
}

func run() error {
	cfg, err := config.GetConfig()
	if err != nil {
		return err
	}
	loggerCallback := logger.Init()
	logger.Debug("Application initializing...")
	cleaner := event.NewCleaner()
	cleaner.Init(loggerCallback)
	defer cleaner.Clean()

	ctx := context.Background()
	validator, err := buildValidator(ctx, cfg, cleaner)
	if err != nil {
		logger.ErrorF("%v", err)
		return err
	}

	registry := session.NewRegistry(sessionOptions(cfg.Broker))
	d := dispatcher.New(registry)
	mqttServer := server.New(registry, d, server.Options{
		ConnectTimeout: utils.ParseStringTime(cfg.Broker.ConnectTimeout),
		WriteTimeout:   utils.ParseStringTime(cfg.Broker.WriteTimeout),
		MaxConnections: cfg.Broker.MaxConnections,
		MaxPacketSize:  cfg.Broker.MaxPacketSize,
	}, server.WithValidator(validator), server.WithAckListener(hook.LogAcknowledged))
	adminServer := admin.NewServer(registry, d, mqttServer.Connections())
	grpcServer := rpc.NewServer(rpc.NewService(registry, d))

	scheduler := event.NewScheduler()
	if err := scheduleJanitor(scheduler, registry, mqttServer.Connections(), cfg.Broker); err != nil {
		logger.ErrorF("%v", err)
		return err
	}

	mqttLn, err := listen("mqtt", cfg.Broker.Listen)
	if err != nil {
		logger.ErrorF("%v", err)
		return err
	}
	httpLn, err := listen("admin http", cfg.Admin.HTTPListen)
	if err != nil {
		_ = mqttLn.Close()
		logger.ErrorF("%v", err)
		return err
	}
	grpcLn, err := listen("admin grpc", cfg.Admin.GRPCListen)
	if err != nil {
		_ = mqttLn.Close()
		_ = httpLn.Close()
		logger.ErrorF("%v", err)
		return err
	}

	cleaner.Add(mqttServer)
	cleaner.Add(adminServer)
	cleaner.Add(rpc.NewShutdownCallback(grpcServer))
	cleaner.Add(scheduler)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return mqttServer.Serve(mqttLn)
	})
	g.Go(func() error {
		return adminServer.Serve(httpLn)
	})
	g.Go(func() error {
		logger.InfoF("gRPC Server Listen On %s", grpcLn.Addr().String())
		return grpcServer.Serve(grpcLn)
	})
	scheduler.Start()

	go func() {
		<-gctx.Done()
		cleaner.Clean()
	}()

	if err := g.Wait(); err != nil && !errors.Is(err, server.ErrServerClosed) {
		logger.ErrorF("Server stopped with error: %v", err)
		return err
	}
	return nil
}
