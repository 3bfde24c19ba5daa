package app

import (
	"fmt"
	"strings"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はWebhookサーバーとディスパッチキューを起動する。
	CommandServe Command = "serve"
	// CommandWorker は定期クリーンアップジョブを起動する。
	CommandWorker Command = "worker"
	// CommandMigrate は未適用のマイグレーションをすべて適用する。
	CommandMigrate Command = "migrate"
	// CommandMigrateDown は最新のマイグレーションを1つ戻す（"migrate down"）。
	CommandMigrateDown Command = "migrate-down"
	// CommandHealthcheck はヘルスチェックを実行する。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// usage はサブコマンドの一覧。
const usage = "serve | worker | migrate [down] | healthcheck"

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空の場合はCommandServeを返す。
// 未知のサブコマンドは誤ってサーバーを起動しないようエラーにする。
func ParseCommand(args []string) (Command, error) {
	if len(args) == 0 {
		return CommandServe, nil
	}

	switch args[0] {
	case "serve":
		return CommandServe, nil
	case "worker":
		return CommandWorker, nil
	case "migrate":
		if len(args) > 1 && !strings.HasPrefix(args[1], "-") {
			if args[1] == "down" {
				return CommandMigrateDown, nil
			}
			return "", fmt.Errorf("unknown migrate direction %q (usage: %s)", args[1], usage)
		}
		return CommandMigrate, nil
	case "healthcheck":
		return CommandHealthcheck, nil
	default:
		return "", fmt.Errorf("unknown command %q (usage: %s)", args[0], usage)
	}
}
