package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"github.com/akagifreeez/relay-gateway/internal/models"
	"github.com/akagifreeez/relay-gateway/pkg/crypto"
	"github.com/akagifreeez/relay-gateway/pkg/database"
)

// PostgresCredentialStore persists credentials in Postgres. The raw
// identifier is never stored in the clear: lookups go through a SHA-256
// hash column and the identifier itself is kept AES-GCM encrypted so the
// master can list recoverable keys.
type PostgresCredentialStore struct {
	db            *database.DB
	encryptionKey string
	maxLimit      int64
}

func NewPostgresCredentialStore(db *database.DB, encryptionKey string, maxLimit int64) *PostgresCredentialStore {
	return &PostgresCredentialStore{
		db:            db,
		encryptionKey: encryptionKey,
		maxLimit:      maxLimit,
	}
}

func (s *PostgresCredentialStore) Get(ctx context.Context, id string) (*models.Credential, error) {
	row := s.db.Pool.QueryRow(ctx, `
		SELECT owner, request_count, request_limit, is_active, is_master, created_at, last_used_at
		FROM credentials WHERE key_hash = $1
	`, crypto.HashKey(id))

	cred := models.Credential{ID: id}
	err := row.Scan(&cred.Owner, &cred.RequestCount, &cred.Limit,
		&cred.IsActive, &cred.IsMaster, &cred.CreatedAt, &cred.LastUsedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUnknownCredential
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load credential: %w", err)
	}
	return &cred, nil
}

func (s *PostgresCredentialStore) Create(ctx context.Context, owner string, limit int64) (*models.Credential, error) {
	id, err := newCredentialID()
	if err != nil {
		return nil, err
	}

	encrypted, err := crypto.Encrypt(s.encryptionKey, id)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt credential: %w", err)
	}

	cred := &models.Credential{
		ID:        id,
		Owner:     owner,
		Limit:     clampLimit(limit, s.maxLimit),
		IsActive:  true,
		CreatedAt: time.Now(),
	}

	_, err = s.db.Pool.Exec(ctx, `
		INSERT INTO credentials (key_hash, encrypted_key, owner, request_limit, is_active, created_at)
		VALUES ($1, $2, $3, $4, TRUE, $5)
	`, crypto.HashKey(id), encrypted, owner, cred.Limit, cred.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert credential: %w", err)
	}

	return cred, nil
}

func (s *PostgresCredentialStore) RecordUse(ctx context.Context, id string) error {
	// The WHERE clause carries the quota bound so the check and the
	// increment are one atomic statement.
	tag, err := s.db.Pool.Exec(ctx, `
		UPDATE credentials
		SET request_count = request_count + 1, last_used_at = NOW()
		WHERE key_hash = $1 AND request_count < request_limit
	`, crypto.HashKey(id))
	if err != nil {
		return fmt.Errorf("failed to record use: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return ErrQuotaExceeded
}

func (s *PostgresCredentialStore) SetActive(ctx context.Context, id string, active bool) error {
	tag, err := s.db.Pool.Exec(ctx, `
		UPDATE credentials SET is_active = $2 WHERE key_hash = $1
	`, crypto.HashKey(id), active)
	if err != nil {
		return fmt.Errorf("failed to update credential: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUnknownCredential
	}
	return nil
}

func (s *PostgresCredentialStore) EnsureMaster(ctx context.Context, id, owner string, limit int64) error {
	encrypted, err := crypto.Encrypt(s.encryptionKey, id)
	if err != nil {
		return fmt.Errorf("failed to encrypt master credential: %w", err)
	}

	tag, err := s.db.Pool.Exec(ctx, `
		INSERT INTO credentials (key_hash, encrypted_key, owner, request_limit, is_active, is_master, created_at)
		VALUES ($1, $2, $3, $4, TRUE, TRUE, NOW())
		ON CONFLICT (key_hash) DO NOTHING
	`, crypto.HashKey(id), encrypted, owner, limit)
	if err != nil {
		return fmt.Errorf("failed to ensure master credential: %w", err)
	}
	if tag.RowsAffected() > 0 {
		log.Info().Str("owner", owner).Msg("Master credential created")
	}
	return nil
}

func (s *PostgresCredentialStore) List(ctx context.Context) ([]*models.Credential, error) {
	rows, err := s.db.Pool.Query(ctx, `
		SELECT encrypted_key, owner, request_count, request_limit, is_active, is_master, created_at, last_used_at
		FROM credentials ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list credentials: %w", err)
	}
	defer rows.Close()

	var out []*models.Credential
	for rows.Next() {
		var encrypted string
		cred := &models.Credential{}
		if err := rows.Scan(&encrypted, &cred.Owner, &cred.RequestCount, &cred.Limit,
			&cred.IsActive, &cred.IsMaster, &cred.CreatedAt, &cred.LastUsedAt); err != nil {
			return nil, fmt.Errorf("failed to scan credential: %w", err)
		}
		id, err := crypto.Decrypt(s.encryptionKey, encrypted)
		if err != nil {
			log.Error().Err(err).Str("owner", cred.Owner).Msg("Failed to decrypt stored credential")
			continue
		}
		cred.ID = id
		out = append(out, cred)
	}
	return out, rows.Err()
}
