// simulator publishes synthetic loom telemetry to an MQTT broker for local
// development. With --embedded-broker it also runs the broker in-process.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"kaldor-iiot/backend/internal/platform/logging"
	"kaldor-iiot/backend/internal/simulator"
	"kaldor-iiot/backend/internal/telemetry/ingest"
)

type publishOptions struct {
	broker         string
	username       string
	password       string
	topicRoot      string
	entities       []string
	interval       time.Duration
	count          int
	alertRate      float64
	seed           uint64
	embeddedBroker string
}

func (o *publishOptions) addFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.broker, "broker", envOr("MQTT_BROKER_URL", "tcp://localhost:1883"), "MQTT broker URL")
	fs.StringVar(&o.username, "username", os.Getenv("MQTT_USERNAME"), "MQTT username")
	fs.StringVar(&o.password, "password", os.Getenv("MQTT_PASSWORD"), "MQTT password")
	fs.StringVar(&o.topicRoot, "topic-root", envOr("MQTT_TOPIC_ROOT", "entity"), "first topic level")
	fs.StringSliceVar(&o.entities, "entity", []string{"LOOM-001"}, "entity IDs to simulate (repeatable)")
	fs.DurationVar(&o.interval, "interval", time.Second, "time between measurements")
	fs.IntVar(&o.count, "count", 0, "stop after this many ticks (0 runs until interrupted)")
	fs.Float64Var(&o.alertRate, "alert-rate", 0.01, "probability of an alert per measurement")
	fs.Uint64Var(&o.seed, "seed", uint64(time.Now().UnixNano()), "random seed")
	fs.StringVar(&o.embeddedBroker, "embedded-broker", "", "start an in-process broker on this address (e.g. :1883) and publish to it")
}

func main() {
	root := &cobra.Command{
		Use:          "simulator",
		Short:        "Kaldor loom telemetry simulator",
		SilenceUsage: true,
	}
	root.AddCommand(publishCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := root.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func publishCmd() *cobra.Command {
	var o publishOptions
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish measurements and occasional alerts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := logging.New("development")
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()
			return runPublish(cmd.Context(), o, log)
		},
	}
	o.addFlags(cmd.Flags())
	return cmd
}

func runPublish(ctx context.Context, o publishOptions, log *zap.Logger) error {
	for _, id := range o.entities {
		if !ingest.ValidEntityID(id) {
			return fmt.Errorf("invalid entity id %q", id)
		}
	}

	if o.embeddedBroker != "" {
		broker, err := startBroker(o.embeddedBroker, log)
		if err != nil {
			return err
		}
		defer func() { _ = broker.Close() }()
		o.broker = "tcp://" + dialAddress(o.embeddedBroker)
	}

	dialer, err := ingest.NewPahoDialer(ingest.PahoConfig{
		BrokerURL: o.broker,
		Username:  o.username,
		Password:  o.password,
	}, log)
	if err != nil {
		return err
	}
	conn, err := dialer.Dial(ctx, func(string, []byte) {})
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	started := time.Now()
	looms := make([]*simulator.Loom, len(o.entities))
	for i, id := range o.entities {
		looms[i] = simulator.NewLoom(id, o.seed+uint64(i), started)
	}
	r := simulator.NewRunner(simulator.Config{
		TopicRoot: o.topicRoot,
		Interval:  o.interval,
		AlertRate: o.alertRate,
		Count:     o.count,
	}, conn, looms, log)

	log.Info("simulator: publishing",
		zap.Strings("entities", o.entities),
		zap.Duration("interval", o.interval),
		zap.String("broker", o.broker),
	)
	n, err := r.Run(ctx)
	log.Info("simulator: stopped", zap.Int("measurements", n))
	return err
}

// startBroker runs a mochi broker that accepts any client.
func startBroker(addr string, log *zap.Logger) (*mochi.Server, error) {
	server := mochi.New(&mochi.Options{InlineClient: true})
	if err := server.AddHook(new(auth.AllowHook), nil); err != nil {
		return nil, err
	}
	if err := server.AddListener(listeners.NewTCP(listeners.Config{ID: "simulator", Address: addr})); err != nil {
		return nil, err
	}
	if err := server.Serve(); err != nil {
		return nil, err
	}
	log.Info("simulator: embedded broker listening", zap.String("addr", addr))
	return server, nil
}

// dialAddress turns a listen address such as ":1883" into one a client can dial.
func dialAddress(listen string) string {
	if strings.HasPrefix(listen, ":") {
		return "127.0.0.1" + listen
	}
	return listen
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
