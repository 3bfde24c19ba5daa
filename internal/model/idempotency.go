package model

import "time"

// IdempotencyKind は冪等性レコードの名前空間を表す。
type IdempotencyKind string

const (
	// IdempotencyPayment は決済プロバイダの参照番号。削除しない。
	IdempotencyPayment IdempotencyKind = "payment"
	// IdempotencyMessage はチャネルのメッセージID。保持期間経過後に削除してよい。
	IdempotencyMessage IdempotencyKind = "message"
)

// IdempotencyOutcome は外部イベントの処理結果を表す。
type IdempotencyOutcome string

const (
	OutcomeProcessed       IdempotencyOutcome = "PROCESSED"
	OutcomeInvalidAmount   IdempotencyOutcome = "INVALID_AMOUNT"
	OutcomeInvalidCurrency IdempotencyOutcome = "INVALID_CURRENCY"
	OutcomeReceived        IdempotencyOutcome = "RECEIVED"
)

// IdempotencyRecord は処理済み外部イベントの書き込み1回限りの記録。
// レコードの存在がそのイベントを処理済みである根拠となる。
type IdempotencyRecord struct {
	Kind        IdempotencyKind
	Reference   string
	Outcome     IdempotencyOutcome
	UserID      string
	AmountMinor int64
	Currency    string
	CreatedAt   time.Time
}
