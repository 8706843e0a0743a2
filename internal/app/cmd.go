package app

import (
	"fmt"
	"strconv"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はAPIサーバーモードで起動することを示す。
	CommandServe Command = "serve"
	// CommandWorker はスナップショットとクリーンアップを定期実行するワーカーモードを示す。
	CommandWorker Command = "worker"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空またはサポート外のコマンドの場合はCommandServeを返す。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}

	switch args[0] {
	case "worker":
		return CommandWorker
	case "serve":
		return CommandServe
	case "migrate":
		return CommandMigrate
	case "healthcheck":
		return CommandHealthcheck
	default:
		return CommandServe
	}
}

// MigrateAction はmigrateサブコマンドの操作。
type MigrateAction string

const (
	MigrateUp      MigrateAction = "up"
	MigrateDown    MigrateAction = "down"
	MigrateVersion MigrateAction = "version"
)

// MigrateArgs はmigrateサブコマンドの解析結果。
type MigrateArgs struct {
	Action MigrateAction
	Steps  int // downで巻き戻す件数
}

// ParseMigrateArgs はmigrate以降の引数を解析する。
// 引数なしはup、downの件数省略は1件として扱う。
func ParseMigrateArgs(args []string) (MigrateArgs, error) {
	if len(args) == 0 {
		return MigrateArgs{Action: MigrateUp}, nil
	}

	switch MigrateAction(args[0]) {
	case MigrateUp:
		if len(args) > 1 {
			return MigrateArgs{}, fmt.Errorf("migrate up takes no arguments: %v", args[1:])
		}
		return MigrateArgs{Action: MigrateUp}, nil
	case MigrateVersion:
		if len(args) > 1 {
			return MigrateArgs{}, fmt.Errorf("migrate version takes no arguments: %v", args[1:])
		}
		return MigrateArgs{Action: MigrateVersion}, nil
	case MigrateDown:
		steps := 1
		if len(args) > 2 {
			return MigrateArgs{}, fmt.Errorf("migrate down takes at most one argument: %v", args[1:])
		}
		if len(args) == 2 {
			n, err := strconv.Atoi(args[1])
			if err != nil || n <= 0 {
				return MigrateArgs{}, fmt.Errorf("invalid migrate down steps %q: must be a positive integer", args[1])
			}
			steps = n
		}
		return MigrateArgs{Action: MigrateDown, Steps: steps}, nil
	default:
		return MigrateArgs{}, fmt.Errorf("unknown migrate action %q (want up, down or version)", args[0])
	}
}
