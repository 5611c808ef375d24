package app

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はシェルAPIサーバーとして起動することを示す。
	CommandServe Command = "serve"
	// CommandMigrate はトークンストア用のデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandStatus は保存済み認証情報の状態を表示することを示す。
	CommandStatus Command = "status"
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
	case "serve":
		return CommandServe
	case "migrate":
		return CommandMigrate
	case "status":
		return CommandStatus
	case "healthcheck":
		return CommandHealthcheck
	default:
		return CommandServe
	}
}
