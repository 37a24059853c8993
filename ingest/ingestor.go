package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/rawglake/rawglake/lake"
	"github.com/rawglake/rawglake/rawg"
	"github.com/rawglake/rawglake/storage"
)

const (
	GamesTableName  = "games"
	GenresTableName = "genres"

	// The genres list is small; one large page covers it.
	genresPageSize = "40"
)

// Ingestor lands catalog data in the bronze layer. Games are written
// incrementally, replacing the extraction-date partition so a rerun for
// the same day converges to the same table state. Genres are reference
// data and get a full overwrite every run.
type Ingestor struct {
	fetcher    rawg.Fetcher
	paginator  *Paginator
	normalizer *Normalizer
	backend    storage.Backend
	bronzeUri  string
	logger     *slog.Logger
}

func NewIngestor(
	fetcher rawg.Fetcher,
	paginator *Paginator,
	normalizer *Normalizer,
	backend storage.Backend,
	bronzeUri string,
	logger *slog.Logger,
) *Ingestor {
	return &Ingestor{
		fetcher:    fetcher,
		paginator:  paginator,
		normalizer: normalizer,
		backend:    backend,
		bronzeUri:  bronzeUri,
		logger:     logger,
	}
}

// IngestGames fetches games released in [start, end] and lands them in
// the games table, partitioned by extraction date. A pagination failure
// after some pages succeeded still writes the accumulated records before
// the failure is reported. An empty range ends the run cleanly.
func (i *Ingestor) IngestGames(ctx context.Context, start, end string) error {
	records, fetchErr := i.paginator.FetchGames(ctx, start, end)
	if errors.Is(fetchErr, ErrNoRecords) {
		i.logger.Warn("no games found in range", "start", start, "end", end)
		return nil
	}
	if fetchErr != nil && len(records) == 0 {
		return fmt.Errorf("unable to fetch games: %w", fetchErr)
	}

	batch, date, err := i.normalizer.NormalizeExtraction(records)
	if err != nil {
		return fmt.Errorf("unable to normalize games: %w", err)
	}

	table, err := i.openOrCreate(GamesTableName, batch.Schema, []string{"extraction_date"})
	if err != nil {
		return err
	}

	version, err := table.ReplacePartition(map[string]string{"extraction_date": date}, batch)
	if err != nil {
		return fmt.Errorf("unable to write games partition %s: %w", date, err)
	}
	i.logger.Info("landed games", "rows", batch.Len(), "extraction_date", date, "version", version)

	if fetchErr != nil {
		return fmt.Errorf("ingestion incomplete, wrote %d records: %w", batch.Len(), fetchErr)
	}
	return nil
}

// IngestGenres fetches the full genres list and overwrites the genres
// table with it.
func (i *Ingestor) IngestGenres(ctx context.Context) error {
	page, err := i.fetcher.Fetch(ctx, "genres", url.Values{"page_size": {genresPageSize}})
	if err != nil {
		return fmt.Errorf("unable to fetch genres: %w", err)
	}
	if len(page.Results) == 0 {
		i.logger.Warn("genres endpoint returned no results")
		return nil
	}

	batch, err := i.normalizer.Normalize(page.Results)
	if err != nil {
		return fmt.Errorf("unable to normalize genres: %w", err)
	}

	table, err := i.openOrCreate(GenresTableName, batch.Schema, nil)
	if err != nil {
		return err
	}

	version, err := table.Overwrite(batch)
	if err != nil {
		return fmt.Errorf("unable to overwrite genres: %w", err)
	}
	i.logger.Info("landed genres", "rows", batch.Len(), "version", version)
	return nil
}

func (i *Ingestor) openOrCreate(name string, schema *lake.Schema, partitionColumns []string) (*lake.Table, error) {
	uri := i.backend.JoinPath(i.bronzeUri, name)

	table, err := lake.OpenTableWithBackend(uri, i.backend)
	if err == nil {
		return table, nil
	}

	var notFound *lake.ErrTableNotFound
	if !errors.As(err, &notFound) {
		return nil, fmt.Errorf("unable to open table %s: %w", uri, err)
	}

	i.logger.Info("creating table", "uri", uri)
	table, err = lake.Create(i.backend, uri, name, schema, partitionColumns)
	if err != nil {
		return nil, fmt.Errorf("unable to create table %s: %w", uri, err)
	}
	return table, nil
}
