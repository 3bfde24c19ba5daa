package repository

import (
	"context"
	"fmt"
	"time"
)

// PostgresCounterStore はrate_countersテーブルを使用した有効期限付きカウンタ。
// 複数プロセス間で送信者ごとの受信数を共有するために使用する。
type PostgresCounterStore struct {
	db DBTX
}

// NewPostgresCounterStore はPostgresCounterStoreを生成する。
func NewPostgresCounterStore(db DBTX) *PostgresCounterStore {
	return &PostgresCounterStore{db: db}
}

func intervalLiteral(d time.Duration) string {
	return fmt.Sprintf("%d milliseconds", d.Milliseconds())
}

// Increment はキーのカウンタを1増やし、増加後の値と窓の期限を返す。
// キーが存在しないか期限切れの場合は1から数え直し、期限を now + window に設定する。
func (s *PostgresCounterStore) Increment(ctx context.Context, key string, window time.Duration) (int64, time.Time, error) {
	var (
		count     int64
		expiresAt time.Time
	)
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO rate_counters (key, count, expires_at)
		 VALUES ($1, 1, NOW() + $2::interval)
		 ON CONFLICT (key) DO UPDATE SET
		   count = CASE WHEN rate_counters.expires_at <= NOW() THEN 1 ELSE rate_counters.count + 1 END,
		   expires_at = CASE WHEN rate_counters.expires_at <= NOW() THEN NOW() + $2::interval ELSE rate_counters.expires_at END
		 RETURNING count, expires_at`,
		key, intervalLiteral(window),
	).Scan(&count, &expiresAt)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("failed to increment counter: %w", err)
	}
	return count, expiresAt, nil
}

// SetIfAbsent はキーが存在しないか期限切れの場合のみ期限 until で設定し、trueを返す。
func (s *PostgresCounterStore) SetIfAbsent(ctx context.Context, key string, until time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO rate_counters (key, count, expires_at)
		 VALUES ($1, 1, $2)
		 ON CONFLICT (key) DO UPDATE SET count = 1, expires_at = $2
		 WHERE rate_counters.expires_at <= NOW()`,
		key, until,
	)
	if err != nil {
		return false, fmt.Errorf("failed to set counter flag: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n == 1, nil
}
