// Package postgres is the durable persistence adapter over pgx: flows and
// directory entries as jsonb documents, plus the inbound message log.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/courierhq/courier/internal/directory"
	"github.com/courierhq/courier/internal/ingest"
	"github.com/courierhq/courier/internal/onboarding"
)

// Store implements onboarding.Store, directory.Adapter, and
// ingest.MessageWriter on a pgx pool.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a Store over an open pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// SaveFlow upserts the full flow record as a jsonb document.
func (s *Store) SaveFlow(ctx context.Context, flow *onboarding.Flow) error {
	data, err := json.Marshal(flow)
	if err != nil {
		return fmt.Errorf("marshal flow: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO onboarding_flows (id, status, data, inserted_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status,
		    data = EXCLUDED.data,
		    updated_at = EXCLUDED.updated_at`,
		flow.ID, string(flow.Status), data, flow.InsertedAt, flow.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save flow: %w", err)
	}
	return nil
}

// GetFlow loads a flow by id.
func (s *Store) GetFlow(ctx context.Context, id string) (*onboarding.Flow, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT data FROM onboarding_flows WHERE id = $1`, id).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, onboarding.ErrFlowNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get flow: %w", err)
	}
	var flow onboarding.Flow
	if err := json.Unmarshal(data, &flow); err != nil {
		return nil, fmt.Errorf("decode flow: %w", err)
	}
	return &flow, nil
}

// DirectoryLookup matches entries on the indexed columns plus jsonb metadata
// equality for any other query key.
func (s *Store) DirectoryLookup(ctx context.Context, target directory.Target, query directory.Query, opts directory.Options) ([]directory.Entry, error) {
	return s.queryEntries(ctx, target, query, opts)
}

// DirectorySearch matches like DirectoryLookup.
func (s *Store) DirectorySearch(ctx context.Context, target directory.Target, query directory.Query, opts directory.Options) ([]directory.Entry, error) {
	return s.queryEntries(ctx, target, query, opts)
}

// EnsureParticipant returns the participant with (channel, external id),
// inserting one when missing.
func (s *Store) EnsureParticipant(ctx context.Context, channelType, externalID, displayName string) (directory.Entry, error) {
	externalID = strings.TrimSpace(externalID)
	row := s.pool.QueryRow(ctx, `
		SELECT id, target, external_id, channel, display_name, metadata
		FROM directory_entries
		WHERE target = $1 AND external_id = $2 AND channel = $3
		ORDER BY id
		LIMIT 1`,
		string(directory.TargetParticipant), externalID, channelType)
	entry, err := scanEntry(row)
	if err == nil {
		return entry, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return directory.Entry{}, fmt.Errorf("lookup participant: %w", err)
	}

	entry = directory.Entry{
		ID:          uuid.NewString(),
		Target:      directory.TargetParticipant,
		ExternalID:  externalID,
		Channel:     channelType,
		DisplayName: displayName,
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO directory_entries (id, target, external_id, channel, display_name, metadata)
		VALUES ($1, $2, $3, $4, $5, '{}'::jsonb)`,
		entry.ID, string(entry.Target), entry.ExternalID, entry.Channel, entry.DisplayName)
	if err != nil {
		return directory.Entry{}, fmt.Errorf("create participant: %w", err)
	}
	return entry, nil
}

// SaveInboundMessage appends to the message log. Re-saving the same id is a
// no-op so a retried ingest never duplicates log rows.
func (s *Store) SaveInboundMessage(ctx context.Context, rec *ingest.MessageRecord) error {
	mentions, err := json.Marshal(rec.Mentions)
	if err != nil {
		return fmt.Errorf("marshal mentions: %w", err)
	}
	metadata, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO inbound_messages
		    (id, channel, bot_id, conversation_id, sender_id, participant_id,
		     body, mentions, was_mentioned, thread_root, metadata, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO NOTHING`,
		rec.ID, string(rec.Channel), rec.BotID, rec.ConversationID, rec.SenderID,
		rec.ParticipantID, rec.Body, mentions, rec.WasMentioned, rec.ThreadRoot,
		metadata, rec.ReceivedAt)
	if err != nil {
		return fmt.Errorf("save inbound message: %w", err)
	}
	return nil
}

func (s *Store) queryEntries(ctx context.Context, target directory.Target, query directory.Query, opts directory.Options) ([]directory.Entry, error) {
	sql := strings.Builder{}
	sql.WriteString(`SELECT id, target, external_id, channel, display_name, metadata
		FROM directory_entries WHERE target = $1`)
	args := []any{string(target)}

	for key, value := range query {
		switch key {
		case "id", "external_id", "channel", "display_name":
			args = append(args, fmt.Sprint(value))
			fmt.Fprintf(&sql, " AND %s = $%d", key, len(args))
		default:
			args = append(args, key, fmt.Sprint(value))
			fmt.Fprintf(&sql, " AND metadata ->> $%d = $%d", len(args)-1, len(args))
		}
	}
	sql.WriteString(" ORDER BY id")
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		fmt.Fprintf(&sql, " LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, sql.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query directory: %w", err)
	}
	defer rows.Close()

	entries := []directory.Entry{}
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan directory entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func scanEntry(row pgx.Row) (directory.Entry, error) {
	var (
		entry    directory.Entry
		target   string
		metadata []byte
	)
	if err := row.Scan(&entry.ID, &target, &entry.ExternalID, &entry.Channel, &entry.DisplayName, &metadata); err != nil {
		return directory.Entry{}, err
	}
	entry.Target = directory.Target(target)
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &entry.Metadata); err != nil {
			return directory.Entry{}, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return entry, nil
}
