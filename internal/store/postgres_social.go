// postgres_social.go -- Follower graph queries.
package store

import (
	"context"
	"fmt"

	"github.com/MGallo-Code/argus/internal/model"
	"github.com/jackc/pgx/v5"
)

// Followers returns one row per user following username, with identity, access type,
// the follower's current state and public key (nil when none is registered).
func (s *PostgresStore) Followers(ctx context.Context, username string) ([]model.FollowerEdge, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT uf.username_follower, ud.first_name, ud.last_name, u.email, u.phone_number, ud.picture,
			uf.access_type::text, us.self_perception::text, ui.public_key
		FROM users_followers uf
		INNER JOIN users u ON u.username = uf.username_follower
		INNER JOIN user_details ud ON ud.username = uf.username_follower
		INNER JOIN users_state us ON us.username = uf.username_follower
		LEFT JOIN users_identity ui ON ui.username = uf.username_follower
		WHERE uf.username = $1
		ORDER BY uf.username_follower
	`, username)
	if err != nil {
		return nil, fmt.Errorf("querying followers: %w", err)
	}
	defer rows.Close()

	var out []model.FollowerEdge
	for rows.Next() {
		var e model.FollowerEdge
		var access, state string
		if err := rows.Scan(&e.Details.Username, &e.Details.FirstName, &e.Details.LastName,
			&e.Details.Email, &e.Details.PhoneNumber, &e.Details.Picture, &access, &state, &e.PublicKey); err != nil {
			return nil, fmt.Errorf("scanning follower: %w", err)
		}
		if e.AccessType, err = accessTypeCodec.decode(access); err != nil {
			return nil, err
		}
		st, err := userStateCodec.decode(state)
		if err != nil {
			return nil, err
		}
		e.State = &st
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating followers: %w", err)
	}
	return out, nil
}

// Following returns the rows for every user that follower follows, with identity,
// the access type granted to follower and the followed user's current state.
// The same user may appear on several rows; callers collapse by username.
func (s *PostgresStore) Following(ctx context.Context, follower string) ([]model.FollowerEdge, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT uf.username, ud.first_name, ud.last_name, u.email, u.phone_number, ud.picture,
			uf.access_type::text, us.self_perception::text
		FROM users_followers uf
		INNER JOIN user_details ud ON ud.username = uf.username
		INNER JOIN users u ON u.username = uf.username
		INNER JOIN users_state us ON us.username = uf.username
		WHERE uf.username_follower = $1
		ORDER BY uf.username
	`, follower)
	if err != nil {
		return nil, fmt.Errorf("querying following: %w", err)
	}
	defer rows.Close()

	var out []model.FollowerEdge
	for rows.Next() {
		var e model.FollowerEdge
		var access, state string
		if err := rows.Scan(&e.Details.Username, &e.Details.FirstName, &e.Details.LastName,
			&e.Details.Email, &e.Details.PhoneNumber, &e.Details.Picture, &access, &state); err != nil {
			return nil, fmt.Errorf("scanning following: %w", err)
		}
		if e.AccessType, err = accessTypeCodec.decode(access); err != nil {
			return nil, err
		}
		st, err := userStateCodec.decode(state)
		if err != nil {
			return nil, err
		}
		e.State = &st
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating following: %w", err)
	}
	return out, nil
}

// FollowerKeys returns the public keys of everyone following username.
// Followers without a registered key are omitted.
func (s *PostgresStore) FollowerKeys(ctx context.Context, username string) ([]model.FollowerKey, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT uf.username_follower, ui.public_key
		FROM users_followers uf
		INNER JOIN users_identity ui ON ui.username = uf.username_follower
		WHERE uf.username = $1
		ORDER BY uf.username_follower
	`, username)
	if err != nil {
		return nil, fmt.Errorf("querying follower keys: %w", err)
	}
	keys, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.FollowerKey, error) {
		var k model.FollowerKey
		err := row.Scan(&k.Username, &k.Key)
		return k, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning follower keys: %w", err)
	}
	return keys, nil
}

// IsFollower reports whether follower currently follows username.
func (s *PostgresStore) IsFollower(ctx context.Context, username, follower string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM users_followers WHERE username = $1 AND username_follower = $2)",
		username, follower).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking follower edge: %w", err)
	}
	return exists, nil
}

// HasAnyEdge reports whether either user follows the other.
func (s *PostgresStore) HasAnyEdge(ctx context.Context, a, b string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM users_followers
			WHERE (username = $1 AND username_follower = $2)
			   OR (username = $2 AND username_follower = $1)
		)`, a, b).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking friendship: %w", err)
	}
	return exists, nil
}

// EmergencyContacts returns the followers of username flagged as emergency contacts.
func (s *PostgresStore) EmergencyContacts(ctx context.Context, username string) ([]model.EmergencyContact, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT u.username, u.email
		FROM users u
		INNER JOIN users_followers uf
			ON uf.username = $1
			AND uf.is_emergency_contact
			AND uf.username_follower = u.username
		ORDER BY u.username
	`, username)
	if err != nil {
		return nil, fmt.Errorf("querying emergency contacts: %w", err)
	}
	contacts, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.EmergencyContact, error) {
		var c model.EmergencyContact
		err := row.Scan(&c.Username, &c.Email)
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning emergency contacts: %w", err)
	}
	return contacts, nil
}

// RemoveFriend deletes the follower edges between a and b in both directions.
func (s *PostgresStore) RemoveFriend(ctx context.Context, a, b string) error {
	if _, err := s.pool.Exec(ctx, "CALL remove_friend($1, $2)", a, b); err != nil {
		return fmt.Errorf("removing friend: %w", err)
	}
	return nil
}
