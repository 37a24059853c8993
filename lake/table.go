package lake

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	gopath "path"
	"strconv"
	"strings"

	"golang.org/x/exp/slices"

	"github.com/rawglake/rawglake/storage"
)

// LogDirName is the directory under a table root that holds the commit
// log. A table exists exactly when this directory holds version 0.
const LogDirName = "_log"

// Table is the in-memory representation of a lake table.
type Table struct {
	// The version of the table as of the most recent loaded log entry.
	// -1 means no commit has been loaded.
	Version int64
	// The URI the table was loaded from.
	TableUri string
	LogUri   string

	State   TableState
	Storage storage.Backend
}

// OpenTable loads the current state of the table at tableUri, selecting a
// storage backend from the URI scheme. Returns *ErrTableNotFound when no
// commit log exists there.
func OpenTable(tableUri string) (*Table, error) {
	backend, root, err := storage.NewBackendForURI(tableUri)
	if err != nil {
		return nil, fmt.Errorf("unable to create backend for uri: %w", err)
	}
	if root != "" {
		tableUri = root
	}
	return OpenTableWithBackend(tableUri, backend)
}

// OpenTableWithBackend loads the table at tableUri through an explicitly
// provided backend.
func OpenTableWithBackend(tableUri string, backend storage.Backend) (*Table, error) {
	table := NewTable(tableUri, backend)
	if err := table.Load(); err != nil {
		return nil, err
	}
	return table, nil
}

func NewTable(tableUri string, backend storage.Backend) *Table {
	tableUri = backend.TrimPath(tableUri)
	return &Table{
		Version:  -1,
		TableUri: tableUri,
		LogUri:   backend.JoinPath(tableUri, LogDirName),
		State:    *NewTableState(),
		Storage:  backend,
	}
}

// Load discards any loaded state and replays the commit log from the
// beginning.
func (t *Table) Load() error {
	t.Version = -1
	t.State = *NewTableState()
	if err := t.Update(); err != nil {
		return err
	}
	if t.Version == -1 {
		return &ErrTableNotFound{TableUri: t.TableUri}
	}
	return nil
}

// Update brings the table up to the latest version by listing the commit
// log once and applying every commit newer than the loaded version.
func (t *Table) Update() error {
	versions, err := t.logVersions()
	var notFound *storage.ErrNotFound
	if errors.As(err, &notFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("unable to list commit log: %w", err)
	}

	for _, version := range versions {
		if version <= t.Version {
			continue
		}
		actions, err := t.readCommit(version)
		if err != nil {
			return fmt.Errorf("unable to read commit %d: %w", version, err)
		}
		if err := t.applyActions(version, actions); err != nil {
			return err
		}
	}
	return nil
}

// logVersions lists the log directory and returns the committed version
// numbers in ascending order. Staged commits and anything else that is
// not a version file are ignored.
func (t *Table) logVersions() ([]int64, error) {
	// The trailing separator keeps bucket backends from treating the log
	// directory itself as the only match.
	objs, err := t.Storage.ListObjs(t.LogUri + "/")
	if err != nil {
		return nil, err
	}

	versions := make([]int64, 0, len(objs))
	for _, o := range objs {
		name := gopath.Base(o.Path)
		if !strings.HasSuffix(name, ".json") {
			continue
		}
		version, err := strconv.ParseInt(strings.TrimSuffix(name, ".json"), 10, 64)
		if err != nil {
			continue
		}
		versions = append(versions, version)
	}
	slices.Sort(versions)
	return versions, nil
}

func (t *Table) applyActions(newVersion int64, actions []Action) error {
	if t.Version+1 != newVersion {
		return fmt.Errorf("version mismatch, loaded version is %v, new version is %v", t.Version, newVersion)
	}

	state, err := NewTableStateFromActions(actions)
	if err != nil {
		return fmt.Errorf("unable to create state from actions: %w", err)
	}

	t.State.Merge(state)
	t.Version = newVersion
	return nil
}

func (t *Table) readCommit(version int64) ([]Action, error) {
	data, err := t.Storage.GetObj(t.CommitUriFromVersion(version))
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(strings.NewReader(string(data)))
	actions := make([]Action, 0)
	for {
		var a Action
		err := dec.Decode(&a)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("unable to decode commit json: %w", err)
		}
		actions = append(actions, a)
	}
	return actions, nil
}

func (t *Table) CommitUriFromVersion(version int64) string {
	return t.Storage.JoinPath(t.LogUri, fmt.Sprintf("%020d.json", version))
}

// Metadata returns the current table metadata, which every created table
// has from version 0 on.
func (t *Table) Metadata() (*TableMetadata, error) {
	if t.State.CurrentMetadata == nil {
		return nil, fmt.Errorf("table %s has no metadata", t.TableUri)
	}
	return t.State.CurrentMetadata, nil
}
