// postgres_state.go -- User safety state and its history log.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/MGallo-Code/argus/internal/model"
	"github.com/jackc/pgx/v5"
)

// UserState returns the current state of username.
// Returns ErrNotFound if the user has no state row.
func (s *PostgresStore) UserState(ctx context.Context, username string) (model.UserState, error) {
	var raw string
	err := s.pool.QueryRow(ctx,
		"SELECT self_perception::text FROM users_state WHERE username = $1",
		username).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("fetching user state: %w", err)
	}
	return userStateCodec.decode(raw)
}

// TransitionUserState sets username's state to newState only if it currently differs,
// appending a history row in the same statement.
// Returns ErrStateUnchanged if no row changed (missing user or already in newState).
func (s *PostgresStore) TransitionUserState(ctx context.Context, username string, newState model.UserState) error {
	state, err := userStateCodec.encode(newState)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
		WITH updated AS (
			UPDATE users_state
			SET self_perception = $1::user_state, updated_at = now()
			WHERE username = $2 AND self_perception <> $1::user_state
			RETURNING username, self_perception
		)
		INSERT INTO users_state_history (username, self_perception)
		SELECT username, self_perception FROM updated
	`, state, username)
	if err != nil {
		return fmt.Errorf("updating user state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStateUnchanged
	}
	return nil
}

// StateHistory returns every recorded transition for username, oldest first.
func (s *PostgresStore) StateHistory(ctx context.Context, username string) ([]model.StateTransition, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT username, self_perception::text, creation_timestamp
		FROM users_state_history
		WHERE username = $1
		ORDER BY id ASC
	`, username)
	if err != nil {
		return nil, fmt.Errorf("querying state history: %w", err)
	}
	history, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.StateTransition, error) {
		var st model.StateTransition
		var raw string
		if err := row.Scan(&st.Username, &raw, &st.CreatedAt); err != nil {
			return st, err
		}
		var err error
		st.State, err = userStateCodec.decode(raw)
		return st, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning state history: %w", err)
	}
	return history, nil
}
