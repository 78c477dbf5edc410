package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/ignite/notification-dispatch/internal/notification"
)

// UserEmail returns the user's address, or ErrNotFound when the user
// does not exist or has no address on file.
func (s *Store) UserEmail(ctx context.Context, userID string) (string, error) {
	var email sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT email FROM users WHERE id = $1
	`, userID).Scan(&email)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("lookup email for %s: %w", userID, err)
	}
	if !email.Valid || email.String == "" {
		return "", fmt.Errorf("user %s has no email: %w", userID, ErrNotFound)
	}
	return email.String, nil
}

// UserEmailVerified reports whether the user's address is verified.
// Unknown users are unverified.
func (s *Store) UserEmailVerified(ctx context.Context, userID string) (bool, error) {
	var verified bool
	err := s.db.QueryRowContext(ctx, `
		SELECT email_verified FROM users WHERE id = $1
	`, userID).Scan(&verified)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup verification for %s: %w", userID, err)
	}
	return verified, nil
}

// UserPreferences returns the explicitly stored per-type switches.
// Types with no row default to enabled.
func (s *Store) UserPreferences(ctx context.Context, userID string) (map[notification.Type]bool, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT type, enabled FROM notification_preferences WHERE user_id = $1
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("lookup preferences for %s: %w", userID, err)
	}
	defer rows.Close()

	prefs := make(map[notification.Type]bool)
	for rows.Next() {
		var (
			typ     string
			enabled bool
		)
		if err := rows.Scan(&typ, &enabled); err != nil {
			return nil, fmt.Errorf("scan preference row: %w", err)
		}
		prefs[notification.Type(typ)] = enabled
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate preference rows: %w", err)
	}
	return prefs, nil
}

// IsEligible reports whether the user should receive mail for this
// type: address verified and the per-type preference not switched off.
// Unknown users are ineligible.
func (s *Store) IsEligible(ctx context.Context, userID string, t notification.Type) (bool, error) {
	var (
		verified bool
		enabled  bool
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT u.email_verified, COALESCE(p.enabled, TRUE)
		FROM users u
		LEFT JOIN notification_preferences p
		       ON p.user_id = u.id AND p.type = $2
		WHERE u.id = $1
	`, userID, string(t)).Scan(&verified, &enabled)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check eligibility for %s/%s: %w", userID, t, err)
	}
	return verified && enabled, nil
}

// SetNotificationPreference stores a per-type switch for the user.
func (s *Store) SetNotificationPreference(ctx context.Context, userID string, t notification.Type, enabled bool) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notification_preferences (user_id, type, enabled)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, type)
		DO UPDATE SET enabled = EXCLUDED.enabled, updated_at = NOW()
	`, userID, string(t), enabled)
	if err != nil {
		return fmt.Errorf("set preference %s/%s: %w", userID, t, err)
	}
	return nil
}

// DisableAllNotifications switches every known type off for the user,
// the unsubscribe-all path.
func (s *Store) DisableAllNotifications(ctx context.Context, userID string) error {
	names := make([]string, 0, len(notification.Types()))
	for _, t := range notification.Types() {
		names = append(names, string(t))
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notification_preferences (user_id, type, enabled)
		SELECT $1, unnest($2::text[]), FALSE
		ON CONFLICT (user_id, type)
		DO UPDATE SET enabled = FALSE, updated_at = NOW()
	`, userID, pq.Array(names))
	if err != nil {
		return fmt.Errorf("disable notifications for %s: %w", userID, err)
	}
	return nil
}

// ActiveUserIDs lists users with agent activity inside [start, end),
// the fan-out set for summary emails.
func (s *Store) ActiveUserIDs(ctx context.Context, start, end time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT user_id FROM agent_runs
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY user_id
	`, start, end)
	if err != nil {
		return nil, fmt.Errorf("list active users: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate user ids: %w", err)
	}
	return ids, nil
}
