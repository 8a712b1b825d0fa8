package app

import (
	"fmt"
	"sort"
)

// Command はbotdirバイナリのサブコマンド。
type Command string

const (
	// CommandServe はHTTPサーバー（ログイン・コールバック・ルートガード）を起動する。
	CommandServe Command = "serve"
	// CommandWorker は期限切れセッションのクリーンアップを定期実行する。
	CommandWorker Command = "worker"
	// CommandMigrate はprofiles/sessionsテーブルのマイグレーションを適用する。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck は起動中のサーバーの/healthを叩く。
	// distrolessイメージのHEALTHCHECKから呼ばれるため設定の読み込みを行わない。
	CommandHealthcheck Command = "healthcheck"
)

var knownCommands = map[string]Command{
	string(CommandServe):       CommandServe,
	string(CommandWorker):      CommandWorker,
	string(CommandMigrate):     CommandMigrate,
	string(CommandHealthcheck): CommandHealthcheck,
}

// ParseCommand はos.Args[1:]からサブコマンドを解析する。
// 引数が空の場合はCommandServe。未知のサブコマンドはエラーにする。
// 2つ目以降の引数は無視する。
func ParseCommand(args []string) (Command, error) {
	if len(args) == 0 {
		return CommandServe, nil
	}
	cmd, ok := knownCommands[args[0]]
	if !ok {
		return "", fmt.Errorf("unknown command %q (available: %v)", args[0], commandNames())
	}
	return cmd, nil
}

// NeedsConfig はサブコマンドの実行に環境変数の設定が必要かを返す。
func (c Command) NeedsConfig() bool {
	return c != CommandHealthcheck
}

func commandNames() []string {
	names := make([]string, 0, len(knownCommands))
	for name := range knownCommands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
