package conversation

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math/big"
	"time"
)

const (
	otpDigits      = 6
	otpTTL         = 10 * time.Minute
	maxOTPAttempts = 3
)

// OTPSender はメール認証コードの配送口。メール配送そのものは外部サービスが担う。
type OTPSender interface {
	SendOTP(ctx context.Context, email, code string) error
}

// LogOTPSender はコードを配送せず、発行したことだけをログに記録する OTPSender。
type LogOTPSender struct {
	logger *slog.Logger
}

// NewLogOTPSender はLogOTPSenderを生成する。
func NewLogOTPSender(logger *slog.Logger) *LogOTPSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogOTPSender{logger: logger}
}

// SendOTP はコード発行をログに記録する。コード自体は記録しない。
func (s *LogOTPSender) SendOTP(_ context.Context, email, _ string) error {
	s.logger.Info("ワンタイムコードを発行", slog.String("email", email))
	return nil
}

func generateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("failed to generate otp: %w", err)
	}
	return fmt.Sprintf("%0*d", otpDigits, n.Int64()), nil
}

func digestOTP(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

func otpMatches(code, digest string) bool {
	return subtle.ConstantTimeCompare([]byte(digestOTP(code)), []byte(digest)) == 1
}
