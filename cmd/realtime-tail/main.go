// Command realtime-tail prints the row changes of a collection as JSON lines.
package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/sonirico/librealtime"
)

type options struct {
	filter string
	events string
	schema string
}

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	opts := options{}

	cmd := &cobra.Command{
		Use:   "realtime-tail <collection>",
		Short: "Stream inserts, updates and deletes of a collection",
		Long: `realtime-tail subscribes to the change feed of a collection and prints every
change as a JSON line. Connection settings are read from REALTIME_* environment
variables or from the YAML file named by REALTIME_CONFIG.`,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return run(ctx, out, args[0], opts)
		},
	}

	cmd.Flags().StringVarP(&opts.filter, "filter", "f", "", "server side row filter, e.g. author_id=eq.42")
	cmd.Flags().StringVarP(&opts.events, "events", "e", "*", "insert, update, delete or *")
	cmd.Flags().StringVarP(&opts.schema, "schema", "s", "", "schema of the collection (defaults to config)")

	return cmd
}

func run(ctx context.Context, out io.Writer, collection string, opts options) error {
	cfg, err := librealtime.LoadConfig()
	if err != nil {
		return err
	}

	events, err := librealtime.ParseEventFilter(opts.events)
	if err != nil {
		return err
	}

	schema := opts.schema
	if schema == "" {
		schema = cfg.Schema
	}

	logger := librealtime.NewLoggerFromConfig(cfg, os.Stderr)

	socket, err := librealtime.NewSocket(logger, cfg.SocketConfig())
	if err != nil {
		return err
	}
	defer socket.Close()

	socket.On(librealtime.SocketReconnected, func(error) {
		logger.Infof("socket reconnected")
	})

	if err := socket.Open(ctx); err != nil {
		return err
	}

	var (
		mu  sync.Mutex
		enc = json.NewEncoder(out)
	)

	sub := librealtime.NewSubscription(socket, librealtime.Handlers[map[string]any]{
		OnChange: func(c librealtime.Change[map[string]any]) {
			mu.Lock()
			defer mu.Unlock()

			if err := enc.Encode(changeLine{
				Type:            string(c.Type),
				Table:           c.Schema + "." + c.Table,
				CommitTimestamp: c.CommitTimestamp,
				New:             c.New,
				Old:             c.Old,
			}); err != nil {
				logger.Errorf("cannot write change: %s", err)
			}
		},
	},
		librealtime.WithLogger(logger),
		librealtime.WithReconnectPolicy(cfg.ReconnectPolicy()),
	)

	filter := librealtime.AllRows()
	if opts.filter != "" {
		filter = librealtime.Where(opts.filter)
	}

	if err := sub.Activate(ctx, librealtime.SubscriptionConfig{
		Collection: collection,
		Schema:     schema,
		Events:     events,
		Filter:     filter,
	}); err != nil {
		return err
	}
	defer sub.Deactivate()

	select {
	case <-ctx.Done():
	case <-socket.Done():
		return errors.New("realtime socket closed")
	}

	return nil
}
