package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/openclaw/subbot-linker/internal/database"
	"github.com/openclaw/subbot-linker/internal/model"
	"github.com/openclaw/subbot-linker/internal/util"
)

// SessionRepository is the durable store of linking session rows.
// Find* methods return (nil, nil) when nothing matches.
type SessionRepository interface {
	Create(ctx context.Context, session *model.Session) error
	Update(ctx context.Context, session *model.Session) error
	Delete(ctx context.Context, id string) error
	FindByID(ctx context.Context, id string) (*model.Session, error)
	FindAll(ctx context.Context) ([]model.Session, error)
	FindByOwner(ctx context.Context, owner string) ([]model.Session, error)
}

const sessionColumns = `
	id, owner_identity, link_mode, state, target_number, display_name,
	pairing_code, qr_payload, linked_identity, error_code, error_reason,
	error_message, auth_material, created_at, expires_at, last_activity_at`

type sessionRepo struct {
	db            database.DBTX
	encryptionKey string
}

// NewSessionRepository returns a postgres-backed repository. When
// encryptionKey is non-empty, auth material is sealed with AES-256-GCM.
func NewSessionRepository(db database.DBTX, encryptionKey string) SessionRepository {
	return &sessionRepo{db: db, encryptionKey: encryptionKey}
}

func (r *sessionRepo) Create(ctx context.Context, s *model.Session) error {
	auth, err := r.seal(s.AuthMaterial)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO linking_sessions (`+sessionColumns+`, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`, s.ID, s.OwnerIdentity, s.LinkMode, s.State, s.TargetNumber, s.DisplayName,
		s.PairingCode, s.QRPayload, s.LinkedIdentity, s.ErrorCode, s.ErrorReason,
		s.ErrorMessage, auth, s.CreatedAt, s.ExpiresAt, s.LastActivityAt, time.Now())
	return err
}

func (r *sessionRepo) Update(ctx context.Context, s *model.Session) error {
	auth, err := r.seal(s.AuthMaterial)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		UPDATE linking_sessions SET
			state = $2,
			display_name = $3,
			pairing_code = $4,
			qr_payload = $5,
			linked_identity = $6,
			error_code = $7,
			error_reason = $8,
			error_message = $9,
			auth_material = $10,
			expires_at = $11,
			last_activity_at = $12,
			updated_at = $13
		WHERE id = $1
	`, s.ID, s.State, s.DisplayName, s.PairingCode, s.QRPayload, s.LinkedIdentity,
		s.ErrorCode, s.ErrorReason, s.ErrorMessage, auth, s.ExpiresAt, s.LastActivityAt, time.Now())
	return err
}

func (r *sessionRepo) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM linking_sessions WHERE id = $1`, id)
	return err
}

func (r *sessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	var session model.Session
	err := r.db.GetContext(ctx, &session, `
		SELECT `+sessionColumns+` FROM linking_sessions WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := r.open(&session); err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *sessionRepo) FindAll(ctx context.Context) ([]model.Session, error) {
	var sessions []model.Session
	err := r.db.SelectContext(ctx, &sessions, `
		SELECT `+sessionColumns+` FROM linking_sessions ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	return r.openAll(sessions)
}

func (r *sessionRepo) FindByOwner(ctx context.Context, owner string) ([]model.Session, error) {
	var sessions []model.Session
	err := r.db.SelectContext(ctx, &sessions, `
		SELECT `+sessionColumns+` FROM linking_sessions
		WHERE owner_identity = $1
		ORDER BY created_at
	`, owner)
	if err != nil {
		return nil, err
	}
	return r.openAll(sessions)
}

func (r *sessionRepo) seal(auth []byte) ([]byte, error) {
	if len(auth) == 0 || r.encryptionKey == "" {
		return auth, nil
	}
	sealed, err := util.Encrypt(r.encryptionKey, auth)
	if err != nil {
		return nil, fmt.Errorf("seal auth material: %w", err)
	}
	return sealed, nil
}

func (r *sessionRepo) open(s *model.Session) error {
	if len(s.AuthMaterial) == 0 || r.encryptionKey == "" {
		return nil
	}
	plain, err := util.Decrypt(r.encryptionKey, s.AuthMaterial)
	if err != nil {
		return fmt.Errorf("open auth material for session %s: %w", s.ID, err)
	}
	s.AuthMaterial = plain
	return nil
}

func (r *sessionRepo) openAll(sessions []model.Session) ([]model.Session, error) {
	for i := range sessions {
		if err := r.open(&sessions[i]); err != nil {
			return nil, err
		}
	}
	return sessions, nil
}
