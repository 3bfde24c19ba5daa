// Package cleanup は期限切れデータの定期削除ジョブを提供する。
// 期限切れのレート制限カウンタ、保持期間を過ぎたメッセージIDの重複排除記録、
// 放置されたフローを1回の実行でまとめて処理する。決済参照は削除しない。
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/chatbooks/internal/model"
)

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// flowStates は放置時にIDLEへ戻す状態。オンボーディング中の状態は対象外。
var flowStates = []string{
	string(model.StateLoggingSale),
	string(model.StateLoggingExpense),
	string(model.StateAddingProduct),
	string(model.StateLoggingCustomerPayment),
	string(model.StateAddingBankAccount),
	string(model.StateAwaitingBankSelection),
	string(model.StateAwaitingItemSelection),
	string(model.StateAwaitingEditField),
	string(model.StateAwaitingEditValue),
}

// Result は1回の実行で削除・リセットした件数。
type Result struct {
	RateCounters int64
	Messages     int64
	StaleFlows   int64
}

// CleanupJob は期限切れデータの削除ジョブ。
// 冪等であり、削除対象がない場合でもエラーにならない。
type CleanupJob struct {
	db     Executor
	logger *slog.Logger

	MessageRetentionDays int           // メッセージIDの保持日数（デフォルト: 14）
	FlowTTL              time.Duration // 0 の場合はフローをリセットしない
}

// NewCleanupJob は新しいCleanupJobを生成する。
// デフォルトの保持日数は14日、フローの有効期限は24時間。
func NewCleanupJob(db Executor, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		db:                   db,
		logger:               logger,
		MessageRetentionDays: 14,
		FlowTTL:              24 * time.Hour,
	}
}

// Run は3種類のクリーンアップを順に実行する。
// いずれかが失敗した場合はそこで中断し、エラーを返す。
func (j *CleanupJob) Run(ctx context.Context) (Result, error) {
	start := time.Now()
	var res Result
	var err error

	res.RateCounters, err = j.exec(ctx, "rate_counters",
		`DELETE FROM rate_counters WHERE expires_at <= now()`)
	if err != nil {
		return res, err
	}

	res.Messages, err = j.exec(ctx, "idempotency_records",
		`DELETE FROM idempotency_records
		 WHERE kind = $1 AND created_at < now() - $2::interval`,
		string(model.IdempotencyMessage), fmt.Sprintf("%d days", j.MessageRetentionDays))
	if err != nil {
		return res, err
	}

	if j.FlowTTL > 0 {
		res.StaleFlows, err = j.exec(ctx, "stale_flows",
			`UPDATE users SET state = $1, state_context = NULL, updated_at = now()
			 WHERE state = ANY($2) AND state_context IS NOT NULL
			   AND updated_at < now() - $3::interval`,
			string(model.StateIdle), pq.Array(flowStates),
			fmt.Sprintf("%d seconds", int64(j.FlowTTL.Seconds())))
		if err != nil {
			return res, err
		}
	}

	j.logger.Info("クリーンアップジョブが完了しました",
		slog.Int64("rate_counters_deleted", res.RateCounters),
		slog.Int64("messages_deleted", res.Messages),
		slog.Int64("flows_reset", res.StaleFlows),
		slog.Int("retention_days", j.MessageRetentionDays),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return res, nil
}

func (j *CleanupJob) exec(ctx context.Context, target, query string, args ...any) (int64, error) {
	result, err := j.db.ExecContext(ctx, query, args...)
	if err != nil {
		j.logger.Error("クリーンアップの実行に失敗しました",
			slog.String("target", target),
			slog.String("error", err.Error()),
		)
		return 0, fmt.Errorf("%sのクリーンアップに失敗: %w", target, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("削除件数の取得に失敗: %w", err)
	}
	return n, nil
}

// Start は起動直後に1回、その後 interval ごとに Run を実行する。ctx がキャンセルされるまでブロックする。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	if _, err := j.Run(ctx); err != nil {
		j.logger.Error("cleanup job failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := j.Run(ctx); err != nil {
				j.logger.Error("cleanup job failed", slog.String("error", err.Error()))
			}
		}
	}
}
