package lake

import (
	"fmt"

	"github.com/rawglake/rawglake/internal/util"
)

// TableMetadata is the in-memory form of a metaData action.
type TableMetadata struct {
	Id               string
	Name             *string
	Format           Format
	Schema           *Schema
	PartitionColumns []string
	CreatedTime      *int64
}

// TableState is the in-memory aggregate of every action applied so far:
// the set of live data files, the tombstones for removed files, and the
// current metadata.
type TableState struct {
	// A removed file remains in the state as a tombstone; it is no longer
	// part of the table but its bytes are still on storage.
	Tombstones      map[string]ActionRemove
	Files           []ActionAdd
	CommitInfos     []util.RawJsonMap
	CurrentMetadata *TableMetadata
}

func NewTableState() *TableState {
	return &TableState{
		Tombstones:  make(map[string]ActionRemove),
		Files:       make([]ActionAdd, 0),
		CommitInfos: make([]util.RawJsonMap, 0),
	}
}

func NewTableStateFromActions(actions []Action) (*TableState, error) {
	state := NewTableState()
	for _, a := range actions {
		if err := state.ProcessAction(a); err != nil {
			return nil, fmt.Errorf("error processing action: %w", err)
		}
	}
	return state, nil
}

func (state *TableState) ProcessAction(action Action) error {
	switch action.GetType() {
	case ActionTypeAdd:
		state.Files = append(state.Files, *action.Add)
	case ActionTypeRemove:
		state.Tombstones[action.Remove.Path] = *action.Remove
	case ActionTypeMetadata:
		schema, err := action.MetaData.GetSchema()
		if err != nil {
			return fmt.Errorf("unable to read schema from metadata: %w", err)
		}
		state.CurrentMetadata = &TableMetadata{
			Id:               action.MetaData.Id,
			Name:             action.MetaData.Name,
			Format:           action.MetaData.Format,
			Schema:           schema,
			PartitionColumns: action.MetaData.PartitionColumns,
			CreatedTime:      action.MetaData.CreatedTime,
		}
	case ActionTypeCommitInfo:
		state.CommitInfos = append(state.CommitInfos, *action.CommitInfo)
	}
	return nil
}

// Merge folds the state of one newer commit into the aggregate state.
// Files removed by the new commit drop out of the live set and stay
// recorded as tombstones.
func (state *TableState) Merge(newState *TableState) {
	if len(newState.Tombstones) > 0 {
		liveFiles := make([]ActionAdd, 0, len(state.Files))
		for _, add := range state.Files {
			if _, isDeleted := newState.Tombstones[add.Path]; !isDeleted {
				liveFiles = append(liveFiles, add)
			}
		}
		state.Files = liveFiles

		for path, del := range newState.Tombstones {
			state.Tombstones[path] = del
		}
	}

	if len(newState.Files) > 0 {
		for _, add := range newState.Files {
			delete(state.Tombstones, add.Path)
		}
		state.Files = append(state.Files, newState.Files...)
	}

	if newState.CurrentMetadata != nil {
		state.CurrentMetadata = newState.CurrentMetadata
	}

	if len(newState.CommitInfos) > 0 {
		state.CommitInfos = append(state.CommitInfos, newState.CommitInfos...)
	}
}

// FilesForPartition returns the live data files whose partition values
// match all of the given values.
func (state *TableState) FilesForPartition(values map[string]string) []ActionAdd {
	matches := make([]ActionAdd, 0)
	for _, add := range state.Files {
		if partitionValuesMatch(add.PartitionValues, values) {
			matches = append(matches, add)
		}
	}
	return matches
}

func partitionValuesMatch(fileValues map[string]*string, want map[string]string) bool {
	for col, v := range want {
		fv, ok := fileValues[col]
		if !ok || fv == nil || *fv != v {
			return false
		}
	}
	return true
}
