package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/chatbooks/internal/model"
	"github.com/lib/pq"
)

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db DBTX
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db DBTX) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

const userColumns = `id, channel_id, state, state_context, business_name, email, currency,
	subscription_status, subscription_expires_at, created_at, updated_at`

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	user, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}
	return user, nil
}

// FindByChannelID はチャネル上の送信者IDでユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByChannelID(ctx context.Context, channelID string) (*model.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE channel_id = $1`, channelID)
	user, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by channel ID: %w", err)
	}
	return user, nil
}

// Create はユーザーを作成する。IDが空の場合はUUIDを採番する。
func (r *PostgresUserRepo) Create(ctx context.Context, user *model.User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	sc, err := encodeStateContext(user.StateContext)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		user.ID, user.ChannelID, string(user.State), sc, user.BusinessName, user.Email, user.Currency,
		string(user.SubscriptionStatus), user.SubscriptionExpiresAt, user.CreatedAt, user.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// SaveState は状態とステートコンテキストを1文で更新する。
func (r *PostgresUserRepo) SaveState(ctx context.Context, userID string, state model.State, sc *model.StateContext) error {
	raw, err := encodeStateContext(sc)
	if err != nil {
		return err
	}
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET state = $2, state_context = $3, updated_at = NOW() WHERE id = $1`,
		userID, string(state), raw,
	)
	if err != nil {
		return fmt.Errorf("failed to save user state: %w", err)
	}
	return requireAffected(result, "user", userID)
}

// UpdateProfile は事業者名・メールアドレス・通貨を更新する。
func (r *PostgresUserRepo) UpdateProfile(ctx context.Context, user *model.User) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET business_name = $2, email = $3, currency = $4, updated_at = NOW() WHERE id = $1`,
		user.ID, user.BusinessName, user.Email, user.Currency,
	)
	if err != nil {
		return fmt.Errorf("failed to update user profile: %w", err)
	}
	return requireAffected(result, "user", user.ID)
}

// UpdateSubscription はサブスクリプションの状態と有効期限を更新する。
func (r *PostgresUserRepo) UpdateSubscription(ctx context.Context, userID string, status model.SubscriptionStatus, expiresAt *time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET subscription_status = $2, subscription_expires_at = $3, updated_at = NOW() WHERE id = $1`,
		userID, string(status), expiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}
	return requireAffected(result, "user", userID)
}

// ResetStaleFlows は指定時刻より前から更新のない収集・選択待ちフローを IDLE に戻す。
// 戻した件数を返す。
func (r *PostgresUserRepo) ResetStaleFlows(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET state = $1, state_context = NULL, updated_at = NOW()
		 WHERE state_context IS NOT NULL
		   AND state_context->>'flow' <> $2
		   AND updated_at < $3`,
		string(model.StateIdle), string(model.FlowOnboarding), before,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to reset stale flows: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

func scanUser(row *sql.Row) (*model.User, error) {
	user := &model.User{}
	var (
		state, status string
		raw           []byte
		expiresAt     sql.NullTime
	)
	err := row.Scan(&user.ID, &user.ChannelID, &state, &raw, &user.BusinessName, &user.Email,
		&user.Currency, &status, &expiresAt, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return nil, err
	}
	user.State = model.State(state)
	user.SubscriptionStatus = model.SubscriptionStatus(status)
	if expiresAt.Valid {
		t := expiresAt.Time
		user.SubscriptionExpiresAt = &t
	}
	if len(raw) > 0 {
		sc := &model.StateContext{}
		if err := json.Unmarshal(raw, sc); err != nil {
			return nil, fmt.Errorf("failed to decode state context: %w", err)
		}
		user.StateContext = sc
	}
	return user, nil
}

// encodeStateContext はステートコンテキストをjsonbカラム値に変換する。nilはNULLになる。
func encodeStateContext(sc *model.StateContext) (any, error) {
	if sc == nil {
		return nil, nil
	}
	raw, err := json.Marshal(sc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode state context: %w", err)
	}
	return string(raw), nil
}

func requireAffected(result sql.Result, entity, id string) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

// isUniqueViolation はPostgreSQLの一意制約違反（23505）かどうかを判定する。
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
