// Command botdir はボットディレクトリのAPIサーバー・ワーカー・マイグレーションを起動する。
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/botdir/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "botdir: %v\n", err)
		os.Exit(1)
	}
}
