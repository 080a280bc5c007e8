// postgres_invitations.go -- Friend invitation links.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/MGallo-Code/argus/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
)

// CreateInvitation inserts a CREATED invitation. The caller generates the id.
func (s *PostgresStore) CreateInvitation(ctx context.Context, inv model.Invitation) error {
	id, err := uuid.FromString(inv.ID)
	if err != nil {
		return fmt.Errorf("parsing invitation id: %w", err)
	}
	state, err := invitationStateCodec.encode(inv.State)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO link_invitations (id, expiration_timestamp, creator_username, state)
		VALUES ($1, $2, $3, $4::invitation_state)
	`, id, inv.ExpirationTimestamp, inv.CreatorUsername, state)
	if err != nil {
		return fmt.Errorf("inserting invitation: %w", err)
	}
	return nil
}

// Invitation fetches one invitation. Returns ErrNotFound for unknown or malformed ids.
func (s *PostgresStore) Invitation(ctx context.Context, id string) (*model.Invitation, error) {
	parsed, err := uuid.FromString(id)
	if err != nil {
		return nil, ErrNotFound
	}
	var inv model.Invitation
	var dbID uuid.UUID
	var state string
	err = s.pool.QueryRow(ctx, `
		SELECT id, creator_username, recipient_username, expiration_timestamp, state::text
		FROM link_invitations WHERE id = $1
	`, parsed).Scan(&dbID, &inv.CreatorUsername, &inv.RecipientUsername, &inv.ExpirationTimestamp, &state)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetching invitation: %w", err)
	}
	inv.ID = dbID.String()
	if inv.State, err = invitationStateCodec.decode(state); err != nil {
		return nil, err
	}
	return &inv, nil
}

// CloseInvitation moves a CREATED invitation to a terminal state, recording the
// acting user when recipient is non-nil.
// Returns ErrStateUnchanged if the invitation is no longer CREATED.
func (s *PostgresStore) CloseInvitation(ctx context.Context, id string, state model.InvitationState, recipient *string) error {
	parsed, err := uuid.FromString(id)
	if err != nil {
		return ErrStateUnchanged
	}
	st, err := invitationStateCodec.encode(state)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE link_invitations
		SET state = $1::invitation_state, recipient_username = COALESCE($2, recipient_username)
		WHERE id = $3 AND state = 'CREATED'
	`, st, recipient, parsed)
	if err != nil {
		return fmt.Errorf("closing invitation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStateUnchanged
	}
	return nil
}

// AcceptInvitation marks the invitation ACCEPTED and creates the friendship in one
// serializable transaction, returning the creator's username.
// Returns ErrStateUnchanged if the invitation is no longer CREATED and
// ErrAlreadyFriends if add_friend hits an existing edge; neither leaves a trace.
// Concurrent accepts are serialized: the loser is rerun and gets one of those two.
func (s *PostgresStore) AcceptInvitation(ctx context.Context, id, recipient string) (string, error) {
	parsed, err := uuid.FromString(id)
	if err != nil {
		return "", ErrStateUnchanged
	}
	var creator string
	err = s.inSerializableTx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			UPDATE link_invitations
			SET state = 'ACCEPTED', recipient_username = $1
			WHERE id = $2 AND state = 'CREATED'
			RETURNING creator_username
		`, recipient, parsed).Scan(&creator)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrStateUnchanged
		}
		if err != nil {
			return fmt.Errorf("accepting invitation: %w", err)
		}

		if _, err := tx.Exec(ctx, "CALL add_friend($1, $2)", creator, recipient); err != nil {
			if isUniqueViolation(err) {
				return ErrAlreadyFriends
			}
			return fmt.Errorf("adding friend: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return creator, nil
}
