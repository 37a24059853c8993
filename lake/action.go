package lake

import (
	"encoding/json"
	"fmt"

	"github.com/rawglake/rawglake/internal/util"
)

// Action is one entry in a table's commit log. The log is an aggregate of
// all actions performed on the table, so the full list of actions is
// required to properly read a table.
type Action struct {
	// Adds a data file to the table state.
	Add *ActionAdd `json:"add,omitempty"`
	// Removes a data file from the table state.
	Remove *ActionRemove `json:"remove,omitempty"`
	// Changes the current metadata of the table. Must be present in the
	// first version of a table. Subsequent metaData actions completely
	// overwrite previous metadata.
	MetaData *ActionMetadata `json:"metaData,omitempty"`
	// Describes commit provenance information for the table.
	CommitInfo *util.RawJsonMap `json:"commitInfo,omitempty"`
}

// ActionAdd describes a parquet data file that is part of the table.
type ActionAdd struct {
	// A relative path, from the root of the table, to the data file.
	Path string `json:"path"`
	// A map from partition column to value for this file. Null means the
	// partition value was null.
	PartitionValues map[string]*string `json:"partitionValues"`
	// The size of this file in bytes.
	Size int64 `json:"size"`
	// Number of rows stored in the file.
	NumRecords int64 `json:"numRecords"`
	// The time this file was created, as milliseconds since the epoch.
	ModificationTime int64 `json:"modificationTime"`
	// When false the file's records are also contained in remove actions
	// of the same version (e.g. a compaction).
	DataChange bool `json:"dataChange"`
}

// ActionRemove is a tombstone for a data file. Removed files stay on
// storage; they simply stop being part of the table state.
type ActionRemove struct {
	// The path of the file that is removed from the table.
	Path string `json:"path"`
	// The timestamp when the remove was added to table state.
	DeletionTimestamp *int64 `json:"deletionTimestamp,omitempty"`
	// Whether data is changed by the remove.
	DataChange bool `json:"dataChange"`
	// A map from partition column to value for this file.
	PartitionValues map[string]*string `json:"partitionValues,omitempty"`
}

// ActionMetadata describes the metadata of the table.
type ActionMetadata struct {
	// Unique identifier for this table.
	Id string `json:"id"`
	// User-provided identifier for this table.
	Name *string `json:"name,omitempty"`
	// Specification of the encoding for the files stored in the table.
	Format Format `json:"format"`
	// Schema of the table, serialized.
	SchemaString string `json:"schemaString"`
	// The names of columns by which the data should be partitioned.
	PartitionColumns []string `json:"partitionColumns"`
	// The time when this metadata action is created, in milliseconds since
	// the Unix epoch.
	CreatedTime *int64 `json:"createdTime,omitempty"`
}

type Format struct {
	// Name of the encoding for files in this table.
	Provider string `json:"provider"`
}

type ActionType string

const (
	ActionTypeAdd        ActionType = "add"
	ActionTypeRemove     ActionType = "remove"
	ActionTypeMetadata   ActionType = "metaData"
	ActionTypeCommitInfo ActionType = "commitInfo"
	ActionTypeInvalid    ActionType = ""
)

func (a *Action) GetType() ActionType {
	if a.Add != nil {
		return ActionTypeAdd
	}
	if a.Remove != nil {
		return ActionTypeRemove
	}
	if a.MetaData != nil {
		return ActionTypeMetadata
	}
	if a.CommitInfo != nil {
		return ActionTypeCommitInfo
	}
	return ActionTypeInvalid
}

func (m *ActionMetadata) GetSchema() (*Schema, error) {
	var s Schema
	if err := json.Unmarshal([]byte(m.SchemaString), &s); err != nil {
		return nil, fmt.Errorf("unable to unmarshal schema: %w", err)
	}
	return &s, nil
}

// NewMetadataAction serializes schema into a metaData action.
func NewMetadataAction(id string, name *string, schema *Schema, partitionColumns []string, createdTime *int64) (*ActionMetadata, error) {
	sb, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("unable to marshal schema: %w", err)
	}

	return &ActionMetadata{
		Id:               id,
		Name:             name,
		Format:           Format{Provider: "parquet"},
		SchemaString:     string(sb),
		PartitionColumns: partitionColumns,
		CreatedTime:      createdTime,
	}, nil
}
