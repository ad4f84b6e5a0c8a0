package app

import (
	"io"
	"os"

	"github.com/spf13/cobra"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はAPIサーバーモードで起動することを示す。
	CommandServe Command = "serve"
	// CommandWorker は期限切れ認証情報のクリーンアップワーカーを起動することを示す。
	CommandWorker Command = "worker"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// NewRootCommand はhourglassのルートコマンドを生成する。
// サブコマンド省略時はserveとして動作する。ログはwに出力する。
func NewRootCommand(w io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "hourglass",
		Short:         "Identity binding and bearer credential service",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCommand(cmd, w, CommandServe)
		},
	}

	root.AddCommand(
		&cobra.Command{
			Use:   string(CommandServe),
			Short: "Start the HTTP API server",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runCommand(cmd, w, CommandServe)
			},
		},
		&cobra.Command{
			Use:   string(CommandWorker),
			Short: "Periodically purge expired exchange codes and bearer tokens",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runCommand(cmd, w, CommandWorker)
			},
		},
		newMigrateCommand(w),
		&cobra.Command{
			Use:   string(CommandHealthcheck),
			Short: "Check /health of a locally running server",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				// フル初期化をスキップする軽量サブコマンド
				port := os.Getenv("SERVER_PORT")
				if port == "" {
					port = "8080"
				}
				return runHealthcheck(port)
			},
		},
	)

	return root
}

func newMigrateCommand(w io.Writer) *cobra.Command {
	var down bool
	cmd := &cobra.Command{
		Use:   string(CommandMigrate),
		Short: "Apply database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := Init(w)
			if err != nil {
				return err
			}
			if down {
				return runMigrateDown(cfg)
			}
			return runMigrate(cfg)
		},
	}
	cmd.Flags().BoolVar(&down, "down", false, "roll back all migrations")
	return cmd
}

// runCommand は設定を読み込み、指定モードで起動する。
func runCommand(cmd *cobra.Command, w io.Writer, mode Command) error {
	cfg, err := Init(w)
	if err != nil {
		return err
	}

	switch mode {
	case CommandWorker:
		return runWorker(cmd.Context(), cfg)
	default:
		return runServe(cmd.Context(), cfg)
	}
}
