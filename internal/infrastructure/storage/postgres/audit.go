package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/klauspost/compress/zstd"

	appctx "deletionmark/internal/core/context"
	"deletionmark/internal/core/id"
	"deletionmark/internal/domain/softdelete"
)

// AuditAction is the action column of sys_audit.
type AuditAction string

const (
	AuditActionSoftDelete  AuditAction = "soft_delete"
	AuditActionSoftRestore AuditAction = "soft_restore"
)

// CompressionAlgo specifies how the changes column is stored.
type CompressionAlgo string

const (
	CompressionNone CompressionAlgo = "none"
	CompressionZstd CompressionAlgo = "zstd"
)

const defaultCompressThreshold = 10 * 1024

// AuditEntry is one sys_audit row.
type AuditEntry struct {
	ID                id.ID           `db:"id"`
	EntityType        string          `db:"entity_type"`
	EntityID          id.ID           `db:"entity_id"`
	Action            AuditAction     `db:"action"`
	UserID            string          `db:"user_id"`
	UserEmail         string          `db:"user_email"`
	Changes           json.RawMessage `db:"changes"`
	ChangesCompressed []byte          `db:"changes_compressed"`
	CompressionAlgo   CompressionAlgo `db:"compression_algo"`
	Metadata          json.RawMessage `db:"metadata"`
	CreatedAt         time.Time       `db:"created_at"`
}

// AuditLog writes a sys_audit row for every applied soft delete and
// restore, inside the same transaction as the update.
type AuditLog struct {
	txm               *TxManager
	encoder           *zstd.Encoder
	decoder           *zstd.Decoder
	compressThreshold int
}

// NewAuditLog creates an audit log.
func NewAuditLog(txm *TxManager) (*AuditLog, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}

	return &AuditLog{
		txm:               txm,
		encoder:           encoder,
		decoder:           decoder,
		compressThreshold: defaultCompressThreshold,
	}, nil
}

// Register attaches the audit log to both after events of h.
func (a *AuditLog) Register(h *softdelete.HookRegistry) {
	h.OnAfterSoftDelete(a.Listener())
	h.OnAfterSoftRestore(a.Listener())
}

// Listener returns an after-event listener. An insert error aborts the
// soft delete.
func (a *AuditLog) Listener() softdelete.Listener {
	return func(ctx context.Context, e *softdelete.Event) error {
		entry, err := a.entryFromEvent(ctx, e)
		if err != nil {
			return err
		}
		return a.Log(ctx, entry)
	}
}

func (a *AuditLog) entryFromEvent(ctx context.Context, e *softdelete.Event) (AuditEntry, error) {
	action := AuditActionSoftDelete
	if e.Operation == softdelete.OpRestore {
		action = AuditActionSoftRestore
	}

	changes, err := json.Marshal(e.Changes.Map())
	if err != nil {
		return AuditEntry{}, fmt.Errorf("marshal changes: %w", err)
	}

	meta := map[string]any{}
	if lock := e.Record.OptimisticLock(); lock != "" {
		meta["lock"] = lock
		meta["lock_value"] = e.Record.Get(lock)
	}
	if tc := appctx.GetTrace(ctx); tc != nil {
		meta["trace_id"] = tc.TraceID
		meta["request_id"] = tc.RequestID
	}
	metadata, err := json.Marshal(meta)
	if err != nil {
		return AuditEntry{}, fmt.Errorf("marshal metadata: %w", err)
	}

	entry := AuditEntry{
		EntityType: e.Record.TableName(),
		EntityID:   e.Record.PrimaryKey(),
		Action:     action,
		Changes:    changes,
		Metadata:   metadata,
	}
	if actor := appctx.GetActor(ctx); actor != nil {
		entry.UserID = actor.UserID
		entry.UserEmail = actor.Email
	}
	return entry, nil
}

// compress moves changes above the threshold to ChangesCompressed.
func (a *AuditLog) compress(entry *AuditEntry) {
	entry.CompressionAlgo = CompressionNone
	if len(entry.Changes) > a.compressThreshold {
		entry.ChangesCompressed = a.encoder.EncodeAll(entry.Changes, nil)
		entry.Changes = nil
		entry.CompressionAlgo = CompressionZstd
	}
}

func (a *AuditLog) decompress(entry *AuditEntry) error {
	if entry.CompressionAlgo != CompressionZstd || len(entry.ChangesCompressed) == 0 {
		return nil
	}
	raw, err := a.decoder.DecodeAll(entry.ChangesCompressed, nil)
	if err != nil {
		return fmt.Errorf("decompress changes: %w", err)
	}
	entry.Changes = raw
	entry.ChangesCompressed = nil
	return nil
}

// Log inserts entry, filling ID and CreatedAt when unset.
func (a *AuditLog) Log(ctx context.Context, entry AuditEntry) error {
	if id.IsNil(entry.ID) {
		entry.ID = id.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	a.compress(&entry)

	sql := `
		INSERT INTO sys_audit (
			id, entity_type, entity_id, action, user_id, user_email,
			changes, changes_compressed, compression_algo, metadata,
			created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := a.txm.GetQuerier(ctx).Exec(ctx, sql,
		entry.ID, entry.EntityType, entry.EntityID, entry.Action,
		entry.UserID, entry.UserEmail,
		entry.Changes, entry.ChangesCompressed, entry.CompressionAlgo,
		entry.Metadata, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// History returns the latest audit entries of one record, newest first.
func (a *AuditLog) History(ctx context.Context, entityType string, entityID id.ID, limit int) ([]AuditEntry, error) {
	sql := `
		SELECT id, entity_type, entity_id, action, user_id, user_email,
			   changes, changes_compressed, compression_algo, metadata,
			   created_at
		FROM sys_audit
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY created_at DESC
		LIMIT $3
	`

	var entries []AuditEntry
	if err := pgxscan.Select(ctx, a.txm.GetQuerier(ctx), &entries, sql, entityType, entityID, limit); err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}

	for i := range entries {
		if err := a.decompress(&entries[i]); err != nil {
			return nil, err
		}
	}
	return entries, nil
}
