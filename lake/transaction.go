package lake

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rawglake/rawglake/internal/util"
	"github.com/rawglake/rawglake/storage"
)

// DefaultMaxRetryCommitAttempts bounds how often a transaction re-tries
// claiming the next version after losing a race with another writer.
const DefaultMaxRetryCommitAttempts uint32 = 100

// Operation names the logical table operation a commit performs, for
// provenance in the commit log.
type Operation struct {
	Name       string
	Parameters map[string]string
}

// TransactionOptions customizes the behavior of a Transaction.
type TransactionOptions struct {
	// Number of retry attempts allowed when committing a transaction.
	MaxRetryCommitAttempts uint32
}

// Transaction collects actions and commits them as one atomic log entry.
// The commit is staged to a temporary object and renamed without replace
// onto the next version, relying on optimistic concurrency to resolve
// version collisions.
type Transaction struct {
	Table   *Table
	Actions []Action
	Options TransactionOptions
}

func (t *Table) CreateTransaction(opts *TransactionOptions) *Transaction {
	options := TransactionOptions{MaxRetryCommitAttempts: DefaultMaxRetryCommitAttempts}
	if opts != nil && opts.MaxRetryCommitAttempts > 0 {
		options = *opts
	}

	return &Transaction{
		Table:   t,
		Actions: make([]Action, 0),
		Options: options,
	}
}

func (tx *Transaction) AddAction(action Action) {
	tx.Actions = append(tx.Actions, action)
}

func (tx *Transaction) AddActions(actions []Action) {
	tx.Actions = append(tx.Actions, actions...)
}

// Commit publishes the transaction's actions as the next table version
// and returns that version. The table state is refreshed to include the
// new commit.
func (tx *Transaction) Commit(op *Operation) (int64, error) {
	if len(tx.Actions) == 0 {
		return 0, fmt.Errorf("refusing to commit empty transaction")
	}

	if op != nil {
		commitInfo := make(util.RawJsonMap)
		commitInfo.MustUpsert("operation", op.Name)
		commitInfo.MustUpsert("timestamp", time.Now().UnixMilli())
		if op.Parameters != nil {
			commitInfo.MustUpsert("operationParameters", op.Parameters)
		}
		tx.Actions = append([]Action{{CommitInfo: &commitInfo}}, tx.Actions...)
	}

	prepared, err := tx.prepareCommit()
	if err != nil {
		return 0, fmt.Errorf("unable to prepare commit: %w", err)
	}

	version, err := tx.tryCommitLoop(prepared)
	if err != nil {
		// The staged object never made it into the log; remove it so
		// failed commits do not litter the log directory.
		if cleanupErr := tx.Table.Storage.DeleteObjs(prepared.Uri); cleanupErr != nil {
			return 0, errors.Join(err, fmt.Errorf("unable to clean up staged commit: %w", cleanupErr))
		}
		return 0, err
	}

	if err := tx.Table.Update(); err != nil {
		return 0, fmt.Errorf("unable to refresh table state after commit: %w", err)
	}

	return version, nil
}

type preparedCommit struct {
	Uri string
}

func (tx *Transaction) prepareCommit() (*preparedCommit, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, a := range tx.Actions {
		if err := enc.Encode(&a); err != nil {
			return nil, fmt.Errorf("unable to encode action: %w", err)
		}
	}

	token := uuid.New().String()
	uri := tx.Table.Storage.JoinPath(tx.Table.LogUri, fmt.Sprintf("_commit_%s.json.tmp", token))
	if err := tx.Table.Storage.PutObj(uri, buf.Bytes()); err != nil {
		return nil, fmt.Errorf("unable to stage commit: %w", err)
	}

	return &preparedCommit{Uri: uri}, nil
}

func (tx *Transaction) tryCommitLoop(prepared *preparedCommit) (int64, error) {
	for attempt := uint32(0); ; attempt++ {
		if attempt >= tx.Options.MaxRetryCommitAttempts {
			return 0, fmt.Errorf("unable to commit after %d attempts", attempt)
		}

		version := tx.Table.Version + 1
		err := tx.tryCommit(prepared, version)

		var alreadyExists *ErrVersionAlreadyExists
		if errors.As(err, &alreadyExists) {
			// Another writer claimed this version; reload and try the
			// next one.
			if err := tx.Table.Update(); err != nil {
				return 0, fmt.Errorf("unable to refresh table state after version conflict: %w", err)
			}
			continue
		}
		if err != nil {
			return 0, err
		}
		return version, nil
	}
}

func (tx *Transaction) tryCommit(prepared *preparedCommit, version int64) error {
	target := tx.Table.CommitUriFromVersion(version)
	err := tx.Table.Storage.RenameObjNoReplace(prepared.Uri, target)

	var alreadyExists *storage.ErrAlreadyExists
	if errors.As(err, &alreadyExists) {
		return &ErrVersionAlreadyExists{Inner: err, Version: version}
	}
	if err != nil {
		return fmt.Errorf("unable to publish commit as version %d: %w", version, err)
	}
	return nil
}
