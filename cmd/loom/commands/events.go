package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/loomengine/loom/pkg/engine"
	"github.com/loomengine/loom/pkg/stores"
)

func newEventsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Inspect the load-event journal",
	}

	cmd.AddCommand(newEventsListCommand())
	cmd.AddCommand(newEventsStatsCommand())
	cmd.AddCommand(newEventsAttachesCommand())

	return cmd
}

// openJournal opens the configured journal for reading.
func openJournal(ctx context.Context) (*stores.SQLiteStore, error) {
	cfg, err := loadConfig("")
	if err != nil {
		return nil, err
	}
	if !cfg.Journal.Enabled {
		return nil, fmt.Errorf("journal is disabled in configuration")
	}

	store, err := stores.NewSQLiteStore(stores.Config{Path: cfg.Journal.Path})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

func newEventsListCommand() *cobra.Command {
	var (
		eventType string
		unitName  string
		limit     int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List journalled load events, newest first",
		Example: `  # Last 20 events
  loom events list --limit 20

  # All transformations of one unit
  loom events list --type transformation --unit app/handlers`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			store, err := openJournal(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			filter := stores.EventFilter{Limit: limit}
			if eventType != "" {
				filter.Type = engine.LoadEventType(eventType)
			}
			if unitName != "" {
				filter.UnitName = unitName
			}

			events, err := store.ListEvents(ctx, filter)
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(events)
			}
			for _, ev := range events {
				line := fmt.Sprintf("%s  %-14s  %s", ev.OccurredAt.Format("2006-01-02 15:04:05"), ev.Type, ev.UnitName)
				if len(ev.Rules) > 0 {
					line += fmt.Sprintf("  rules=%v", ev.Rules)
				}
				if ev.Error != "" {
					line += "  error=" + ev.Error
				}
				fmt.Println(line)
			}
			if len(events) == 0 {
				fmt.Println("no events")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&eventType, "type", "", "filter by event type (discovery, transformation, ignored, complete, error, registration)")
	cmd.Flags().StringVar(&unitName, "unit", "", "filter by unit name")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum events to list")

	return cmd
}

func newEventsStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show event counts by type",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			store, err := openJournal(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			counts, err := store.CountEventsByType(ctx)
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(counts)
			}
			for _, t := range []engine.LoadEventType{
				engine.EventDiscovery,
				engine.EventTransformation,
				engine.EventIgnored,
				engine.EventComplete,
				engine.EventError,
				engine.EventRegistration,
			} {
				if n, ok := counts[t]; ok {
					fmt.Printf("%-14s %d\n", t, n)
				}
			}
			return nil
		},
	}
}

func newEventsAttachesCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "attaches",
		Short: "List recorded attaches",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			store, err := openJournal(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			attaches, err := store.ListAttaches(ctx, limit, 0)
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(attaches)
			}
			for _, a := range attaches {
				state := "attached"
				if a.DetachedAt != nil {
					state = "detached " + a.DetachedAt.Format("2006-01-02 15:04:05")
				}
				fmt.Printf("%s  plugins=%d rules=%d  %s\n", a.ID, a.Plugins, a.Rules, state)
			}
			if len(attaches) == 0 {
				fmt.Println("no attaches recorded")
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum attaches to list")

	return cmd
}
