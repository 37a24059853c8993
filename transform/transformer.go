// Package transform derives the silver layer from bronze: a deduplicated
// refined games table and a per-year, per-genre analytics rollup. Both
// outputs are fully rebuilt from the current bronze state on every run.
package transform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/rawglake/rawglake/lake"
	"github.com/rawglake/rawglake/storage"
)

const (
	GamesTableName     = "games"
	RefinedTableName   = "games_refined"
	AnalyticsTableName = "games_analytics"

	topRatedThreshold = 85
	unknownGenre      = "Unknown"
	releasedLayout    = "2006-01-02"
)

// refinedColumns is the output allow-list of the refined table, projected
// against whatever bronze actually carries since the upstream schema
// evolves.
var refinedColumns = []string{
	"id", "slug", "name", "released", "released_year", "tba",
	"background_image", "rating", "rating_top", "metacritic", "is_top_rated",
	"primary_genre", "extraction_date",
}

// Transformer rebuilds the silver tables from the bronze games table.
// The layers carry their own backends so bronze and silver can live on
// different storage.
type Transformer struct {
	bronze    storage.Backend
	bronzeUri string
	silver    storage.Backend
	silverUri string
	logger    *slog.Logger
}

func NewTransformer(bronze storage.Backend, bronzeUri string, silver storage.Backend, silverUri string, logger *slog.Logger) *Transformer {
	return &Transformer{
		bronze:    bronze,
		bronzeUri: bronzeUri,
		silver:    silver,
		silverUri: silverUri,
		logger:    logger,
	}
}

// game is one bronze row after cleaning and derivation.
type game struct {
	row          lake.Row
	id           any
	extraction   string
	released     *time.Time
	releasedYear *int64
	metacritic   *float64
	rating       *float64
	genres       []string
	primaryGenre string
	isTopRated   bool
}

// Run executes the full bronze-to-silver pass. It aborts if bronze is
// absent or unreadable, ends cleanly on an empty bronze table, and
// otherwise overwrites both silver tables.
func (t *Transformer) Run(ctx context.Context) error {
	bronzeGamesUri := t.bronze.JoinPath(t.bronzeUri, GamesTableName)
	table, err := lake.OpenTableWithBackend(bronzeGamesUri, t.bronze)
	if err != nil {
		return fmt.Errorf("unable to open bronze games table: %w", err)
	}

	batch, err := table.ReadAll(ctx)
	if err != nil {
		return fmt.Errorf("unable to read bronze games table: %w", err)
	}
	t.logger.Info("loaded bronze games", "rows", len(batch.Rows))

	if len(batch.Rows) == 0 {
		t.logger.Warn("bronze games table is empty, skipping transformation")
		return nil
	}

	games := cleanGames(batch.Rows)
	games = deduplicate(games)
	for _, g := range games {
		g.derive()
	}

	refined := t.buildRefined(batch.Schema, games)
	if err := t.overwrite(RefinedTableName, refined); err != nil {
		return err
	}
	t.logger.Info("wrote refined games", "rows", refined.Len())

	analytics := buildAnalytics(games)
	if err := t.overwrite(AnalyticsTableName, analytics); err != nil {
		return err
	}
	t.logger.Info("wrote games analytics", "rows", analytics.Len())

	return nil
}

func cleanGames(rows []lake.Row) []*game {
	games := make([]*game, len(rows))
	for i, row := range rows {
		g := &game{row: row, id: row["id"]}
		if s, ok := row["extraction_date"].(string); ok {
			g.extraction = s
		}
		if s, ok := row["released"].(string); ok {
			if parsed, err := time.Parse(releasedLayout, s); err == nil {
				g.released = &parsed
			}
		}
		g.metacritic = asFloat(row["metacritic"])
		g.rating = asFloat(row["rating"])
		games[i] = g
	}
	return games
}

// deduplicate keeps one row per (id, extraction_date): rows are sorted
// ascending by extraction date with original order preserved inside a
// date, then the last occurrence of each pair wins. Re-fetching the same
// game on the same day therefore keeps the most recently appended state,
// while distinct days keep one state each.
func deduplicate(games []*game) []*game {
	sorted := make([]*game, len(games))
	copy(sorted, games)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].extraction < sorted[j].extraction
	})

	type gameDay struct {
		id   string
		date string
	}
	seen := make(map[gameDay]struct{}, len(sorted))
	kept := make([]*game, 0, len(sorted))
	for i := len(sorted) - 1; i >= 0; i-- {
		g := sorted[i]
		key := gameDay{id: fmt.Sprintf("%v", g.id), date: g.extraction}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		kept = append(kept, g)
	}

	for i, j := 0, len(kept)-1; i < j; i, j = i+1, j-1 {
		kept[i], kept[j] = kept[j], kept[i]
	}
	return kept
}

func (g *game) derive() {
	g.genres = parseGenreNames(g.row["genres"])
	g.primaryGenre = unknownGenre
	if len(g.genres) > 0 {
		g.primaryGenre = g.genres[0]
	}
	if g.released != nil {
		year := int64(g.released.Year())
		g.releasedYear = &year
	}
	g.isTopRated = g.metacritic != nil && *g.metacritic > topRatedThreshold
}

// parseGenreNames recovers the genre names from the serialized bronze
// column. Anything unparseable yields an empty list rather than an error.
func parseGenreNames(v any) []string {
	text, ok := v.(string)
	if !ok || text == "" {
		return nil
	}

	var entries []map[string]any
	if err := jsoniter.UnmarshalFromString(text, &entries); err != nil {
		return nil
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if name, ok := e["name"].(string); ok {
			names = append(names, name)
		}
	}
	return names
}

func (t *Transformer) buildRefined(bronzeSchema *lake.Schema, games []*game) *lake.Batch {
	fields := make([]lake.Field, 0, len(refinedColumns))
	for _, col := range refinedColumns {
		switch col {
		case "released":
			fields = append(fields, lake.Field{Name: col, Type: lake.DataTypeString})
		case "released_year":
			fields = append(fields, lake.Field{Name: col, Type: lake.DataTypeLong})
		case "metacritic":
			fields = append(fields, lake.Field{Name: col, Type: lake.DataTypeDouble})
		case "is_top_rated":
			fields = append(fields, lake.Field{Name: col, Type: lake.DataTypeBoolean})
		case "primary_genre":
			fields = append(fields, lake.Field{Name: col, Type: lake.DataTypeString})
		default:
			if f, ok := bronzeSchema.Field(col); ok {
				fields = append(fields, f)
			}
		}
	}
	schema := lake.NewSchema(fields...)

	rows := make([]lake.Row, 0, len(games))
	for _, g := range games {
		row := make(lake.Row, len(fields))
		for _, f := range fields {
			switch f.Name {
			case "released":
				row[f.Name] = nil
				if g.released != nil {
					row[f.Name] = g.released.Format(releasedLayout)
				}
			case "released_year":
				row[f.Name] = nilableLong(g.releasedYear)
			case "metacritic":
				row[f.Name] = nilableDouble(g.metacritic)
			case "is_top_rated":
				row[f.Name] = g.isTopRated
			case "primary_genre":
				row[f.Name] = g.primaryGenre
			default:
				row[f.Name] = g.row[f.Name]
			}
		}
		rows = append(rows, row)
	}

	return lake.NewBatch(schema, rows)
}

// buildAnalytics explodes each game into one row per genre, drops rows
// without a resolvable year or genre, and aggregates mean rating and game
// count per (released_year, genre). Output order is year descending, then
// count descending, then genre ascending.
func buildAnalytics(games []*game) *lake.Batch {
	type yearGenre struct {
		year  int64
		genre string
	}
	type aggregate struct {
		ratingSum   float64
		ratingCount int64
		gameCount   int64
	}

	groups := make(map[yearGenre]*aggregate)
	for _, g := range games {
		if g.releasedYear == nil {
			continue
		}
		for _, genre := range g.genres {
			key := yearGenre{year: *g.releasedYear, genre: genre}
			agg, ok := groups[key]
			if !ok {
				agg = &aggregate{}
				groups[key] = agg
			}
			agg.gameCount++
			if g.rating != nil {
				agg.ratingSum += *g.rating
				agg.ratingCount++
			}
		}
	}

	keys := make([]yearGenre, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].year != keys[j].year {
			return keys[i].year > keys[j].year
		}
		if groups[keys[i]].gameCount != groups[keys[j]].gameCount {
			return groups[keys[i]].gameCount > groups[keys[j]].gameCount
		}
		return keys[i].genre < keys[j].genre
	})

	schema := lake.NewSchema(
		lake.Field{Name: "released_year", Type: lake.DataTypeLong},
		lake.Field{Name: "genre", Type: lake.DataTypeString},
		lake.Field{Name: "avg_rating", Type: lake.DataTypeDouble},
		lake.Field{Name: "game_count", Type: lake.DataTypeLong},
	)

	rows := make([]lake.Row, 0, len(keys))
	for _, k := range keys {
		agg := groups[k]
		var avg any
		if agg.ratingCount > 0 {
			avg = agg.ratingSum / float64(agg.ratingCount)
		}
		rows = append(rows, lake.Row{
			"released_year": k.year,
			"genre":         k.genre,
			"avg_rating":    avg,
			"game_count":    agg.gameCount,
		})
	}

	return lake.NewBatch(schema, rows)
}

func (t *Transformer) overwrite(name string, batch *lake.Batch) error {
	uri := t.silver.JoinPath(t.silverUri, name)

	table, err := lake.OpenTableWithBackend(uri, t.silver)
	if err != nil {
		var notFound *lake.ErrTableNotFound
		if !errors.As(err, &notFound) {
			return fmt.Errorf("unable to open table %s: %w", uri, err)
		}
		table, err = lake.Create(t.silver, uri, name, batch.Schema, nil)
		if err != nil {
			return fmt.Errorf("unable to create table %s: %w", uri, err)
		}
	}

	if _, err := table.Overwrite(batch); err != nil {
		return fmt.Errorf("unable to overwrite table %s: %w", uri, err)
	}
	return nil
}

func asFloat(v any) *float64 {
	switch x := v.(type) {
	case float64:
		return &x
	case int64:
		f := float64(x)
		return &f
	case string:
		if f, err := strconv.ParseFloat(x, 64); err == nil {
			return &f
		}
	}
	return nil
}

func nilableLong(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nilableDouble(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}
