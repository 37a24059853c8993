// Command rawglake runs the RAWG catalog pipeline: incremental game
// ingestion and genre reference loads into the bronze layer, the silver
// transformation, and a quick look at the analytics output.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/lmittmann/tint"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	_ "gocloud.dev/blob/azureblob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/s3blob"

	"github.com/rawglake/rawglake/config"
	"github.com/rawglake/rawglake/ingest"
	"github.com/rawglake/rawglake/lake"
	"github.com/rawglake/rawglake/rawg"
	"github.com/rawglake/rawglake/storage"
	"github.com/rawglake/rawglake/transform"
)

const dateLayout = "2006-01-02"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var verbose bool

	root := &cobra.Command{
		Use:           "rawglake",
		Short:         "Land RAWG catalog data in a bronze/silver lake",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	newLogger := func() *slog.Logger {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
			Level:      level,
			TimeFormat: time.TimeOnly,
		}))
	}

	root.AddCommand(
		newIngestCmd(newLogger),
		newIngestGenresCmd(newLogger),
		newTransformCmd(newLogger),
		newShowCmd(newLogger),
		newHistoryCmd(),
	)
	return root
}

func newIngestCmd(newLogger func() *slog.Logger) *cobra.Command {
	var (
		start    string
		end      string
		maxPages int
	)

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Fetch games released in a date range into bronze",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, date := range []string{start, end} {
				if _, err := time.Parse(dateLayout, date); err != nil {
					return fmt.Errorf("invalid date %q, expected YYYY-MM-DD", date)
				}
			}

			logger := newLogger()
			ingestor, err := buildIngestor(logger, maxPages)
			if err != nil {
				return err
			}

			if err := ingestor.IngestGames(cmd.Context(), start, end); err != nil {
				logger.Error("game ingestion failed", "error", err)
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&start, "start", "", "start of the release date range (YYYY-MM-DD)")
	cmd.Flags().StringVar(&end, "end", "", "end of the release date range (YYYY-MM-DD)")
	cmd.Flags().IntVar(&maxPages, "max-pages", ingest.DefaultMaxPages, "maximum number of pages to fetch")
	cmd.MarkFlagRequired("start")
	cmd.MarkFlagRequired("end")

	return cmd
}

func newIngestGenresCmd(newLogger func() *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest-genres",
		Short: "Full-load the genres reference table into bronze",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ingestor, err := buildIngestor(logger, ingest.DefaultMaxPages)
			if err != nil {
				return err
			}

			if err := ingestor.IngestGenres(cmd.Context()); err != nil {
				logger.Error("genre ingestion failed", "error", err)
				return err
			}
			return nil
		},
	}
}

func newTransformCmd(newLogger func() *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "transform",
		Short: "Rebuild the silver tables from bronze",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			cfg := config.Load()

			bronze, bronzeRoot, err := storage.NewBackendForURI(cfg.BronzeUri)
			if err != nil {
				return fmt.Errorf("unable to open bronze storage: %w", err)
			}
			silver, silverRoot, err := storage.NewBackendForURI(cfg.SilverUri)
			if err != nil {
				return fmt.Errorf("unable to open silver storage: %w", err)
			}

			transformer := transform.NewTransformer(bronze, bronzeRoot, silver, silverRoot, logger)
			if err := transformer.Run(cmd.Context()); err != nil {
				logger.Error("transformation failed", "error", err)
				return err
			}
			return nil
		},
	}
}

func newShowCmd(newLogger func() *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the games analytics table",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()

			silver, silverRoot, err := storage.NewBackendForURI(cfg.SilverUri)
			if err != nil {
				return fmt.Errorf("unable to open silver storage: %w", err)
			}

			uri := silver.JoinPath(silverRoot, transform.AnalyticsTableName)
			table, err := lake.OpenTableWithBackend(uri, silver)
			if err != nil {
				return fmt.Errorf("unable to open analytics table: %w", err)
			}
			batch, err := table.ReadAll(cmd.Context())
			if err != nil {
				return fmt.Errorf("unable to read analytics table: %w", err)
			}

			w := tablewriter.NewWriter(os.Stdout)
			w.SetHeader([]string{"Year", "Genre", "Avg rating", "Games"})
			for _, row := range batch.Rows {
				w.Append([]string{
					formatCell(row["released_year"]),
					formatCell(row["genre"]),
					formatCell(row["avg_rating"]),
					formatCell(row["game_count"]),
				})
			}
			w.Render()
			return nil
		},
	}
}

func newHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <table-uri>",
		Short: "Print the commit history of a lake table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			table, err := lake.OpenTable(args[0])
			if err != nil {
				return fmt.Errorf("unable to open table: %w", err)
			}

			w := tablewriter.NewWriter(os.Stdout)
			w.SetHeader([]string{"#", "Operation", "Timestamp"})
			for i, ci := range table.State.CommitInfos {
				operation, _ := ci.GetString("operation")
				w.Append([]string{
					fmt.Sprintf("%d", i),
					operation,
					formatCommitTime(ci["timestamp"]),
				})
			}
			w.Render()
			return nil
		},
	}
}

func formatCommitTime(raw json.RawMessage) string {
	var millis int64
	if err := json.Unmarshal(raw, &millis); err != nil {
		return ""
	}
	return time.UnixMilli(millis).UTC().Format(time.RFC3339)
}

func buildIngestor(logger *slog.Logger, maxPages int) (*ingest.Ingestor, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	backend, bronzeRoot, err := storage.NewBackendForURI(cfg.BronzeUri)
	if err != nil {
		return nil, fmt.Errorf("unable to open bronze storage: %w", err)
	}

	clock := clockwork.NewRealClock()
	client := rawg.NewClient(cfg.BaseUrl, cfg.ApiKey, logger)
	paginator := ingest.NewPaginator(client, clock, logger, ingest.WithMaxPages(maxPages))
	normalizer := ingest.NewNormalizer(clock, logger)

	return ingest.NewIngestor(client, paginator, normalizer, backend, bronzeRoot, logger), nil
}

func formatCell(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case float64:
		return fmt.Sprintf("%.2f", x)
	default:
		return fmt.Sprintf("%v", x)
	}
}
