// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ratelimit

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SQLStore persists rate-limit usage counters in the shared session
// database rather than in process memory, so limits survive a restart
// and are shared across every process pointed at the same DSN (§4.2's
// per-provider metrics stay in-process; usage counters do not need to).
type SQLStore struct {
	db      *sql.DB
	dialect string
}

// NewSQLStore wraps an already-open *sql.DB (typically obtained from
// config.DBPool, shared with pkg/session) and ensures its usage table
// exists.
func NewSQLStore(db *sql.DB, dialect string) (*SQLStore, error) {
	s := &SQLStore{db: db, dialect: dialect}
	if err := s.migrate(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS rate_limit_usage (
		scope TEXT NOT NULL,
		identifier TEXT NOT NULL,
		limit_type TEXT NOT NULL,
		window TEXT NOT NULL,
		amount BIGINT NOT NULL,
		window_end TEXT NOT NULL,
		PRIMARY KEY (scope, identifier, limit_type, window)
	)`)
	if err != nil {
		return fmt.Errorf("ratelimit: migrate: %w", err)
	}
	return nil
}

func (s *SQLStore) ph(n int) string {
	if s.dialect == "postgres" {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func (s *SQLStore) GetUsage(ctx context.Context, scope Scope, identifier string, limitType LimitType, window TimeWindow) (int64, time.Time, error) {
	query := fmt.Sprintf(`SELECT amount, window_end FROM rate_limit_usage
		WHERE scope = %s AND identifier = %s AND limit_type = %s AND window = %s`,
		s.ph(1), s.ph(2), s.ph(3), s.ph(4))
	var amount int64
	var windowEndStr string
	err := s.db.QueryRowContext(ctx, query, string(scope), identifier, string(limitType), string(window)).Scan(&amount, &windowEndStr)
	now := time.Now()
	if err == sql.ErrNoRows {
		return 0, now.Add(window.Duration()), nil
	}
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("ratelimit: get usage: %w", err)
	}
	windowEnd, perr := time.Parse(time.RFC3339Nano, windowEndStr)
	if perr != nil {
		return 0, time.Time{}, fmt.Errorf("ratelimit: parse window_end: %w", perr)
	}
	if windowEnd.Before(now) {
		return 0, now.Add(window.Duration()), nil
	}
	return amount, windowEnd, nil
}

func (s *SQLStore) IncrementUsage(ctx context.Context, scope Scope, identifier string, limitType LimitType, window TimeWindow, amount int64) (int64, time.Time, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("ratelimit: begin tx: %w", err)
	}
	defer tx.Rollback()

	selectQuery := fmt.Sprintf(`SELECT amount, window_end FROM rate_limit_usage
		WHERE scope = %s AND identifier = %s AND limit_type = %s AND window = %s`,
		s.ph(1), s.ph(2), s.ph(3), s.ph(4))
	var current int64
	var windowEndStr string
	now := time.Now()
	err = tx.QueryRowContext(ctx, selectQuery, string(scope), identifier, string(limitType), string(window)).Scan(&current, &windowEndStr)

	var newAmount int64
	var newWindowEnd time.Time
	switch {
	case err == sql.ErrNoRows:
		newAmount = amount
		newWindowEnd = now.Add(window.Duration())
		insertQuery := fmt.Sprintf(`INSERT INTO rate_limit_usage (scope, identifier, limit_type, window, amount, window_end)
			VALUES (%s, %s, %s, %s, %s, %s)`, s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5), s.ph(6))
		if _, err := tx.ExecContext(ctx, insertQuery, string(scope), identifier, string(limitType), string(window), newAmount, newWindowEnd.Format(time.RFC3339Nano)); err != nil {
			return 0, time.Time{}, fmt.Errorf("ratelimit: insert usage: %w", err)
		}
	case err != nil:
		return 0, time.Time{}, fmt.Errorf("ratelimit: increment usage: %w", err)
	default:
		windowEnd, perr := time.Parse(time.RFC3339Nano, windowEndStr)
		if perr != nil {
			return 0, time.Time{}, fmt.Errorf("ratelimit: parse window_end: %w", perr)
		}
		if windowEnd.Before(now) {
			newAmount = amount
			newWindowEnd = now.Add(window.Duration())
		} else {
			newAmount = current + amount
			newWindowEnd = windowEnd
		}
		updateQuery := fmt.Sprintf(`UPDATE rate_limit_usage SET amount = %s, window_end = %s
			WHERE scope = %s AND identifier = %s AND limit_type = %s AND window = %s`,
			s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5), s.ph(6))
		if _, err := tx.ExecContext(ctx, updateQuery, newAmount, newWindowEnd.Format(time.RFC3339Nano), string(scope), identifier, string(limitType), string(window)); err != nil {
			return 0, time.Time{}, fmt.Errorf("ratelimit: update usage: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, time.Time{}, fmt.Errorf("ratelimit: commit: %w", err)
	}
	return newAmount, newWindowEnd, nil
}

func (s *SQLStore) SetUsage(ctx context.Context, scope Scope, identifier string, limitType LimitType, window TimeWindow, amount int64, windowEnd time.Time) error {
	deleteQuery := fmt.Sprintf(`DELETE FROM rate_limit_usage WHERE scope = %s AND identifier = %s AND limit_type = %s AND window = %s`,
		s.ph(1), s.ph(2), s.ph(3), s.ph(4))
	if _, err := s.db.ExecContext(ctx, deleteQuery, string(scope), identifier, string(limitType), string(window)); err != nil {
		return fmt.Errorf("ratelimit: set usage (clear): %w", err)
	}
	insertQuery := fmt.Sprintf(`INSERT INTO rate_limit_usage (scope, identifier, limit_type, window, amount, window_end)
		VALUES (%s, %s, %s, %s, %s, %s)`, s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5), s.ph(6))
	if _, err := s.db.ExecContext(ctx, insertQuery, string(scope), identifier, string(limitType), string(window), amount, windowEnd.Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("ratelimit: set usage (insert): %w", err)
	}
	return nil
}

func (s *SQLStore) DeleteUsage(ctx context.Context, scope Scope, identifier string) error {
	query := fmt.Sprintf(`DELETE FROM rate_limit_usage WHERE scope = %s AND identifier = %s`, s.ph(1), s.ph(2))
	if _, err := s.db.ExecContext(ctx, query, string(scope), identifier); err != nil {
		return fmt.Errorf("ratelimit: delete usage: %w", err)
	}
	return nil
}

func (s *SQLStore) DeleteExpired(ctx context.Context, before time.Time) error {
	query := fmt.Sprintf(`DELETE FROM rate_limit_usage WHERE window_end < %s`, s.ph(1))
	if _, err := s.db.ExecContext(ctx, query, before.Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("ratelimit: delete expired: %w", err)
	}
	return nil
}

// Close is a no-op: the underlying *sql.DB is owned by config.DBPool
// and closed there on shutdown.
func (s *SQLStore) Close() error { return nil }
