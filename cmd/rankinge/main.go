// Command rankinge は商品ランキングサイトのAPIサーバーとワーカーを起動する。
//
//	rankinge [serve]            APIサーバー
//	rankinge worker             定期スナップショットとクリーンアップ
//	rankinge migrate [up|down [N]|version]
//	rankinge healthcheck        コンテナ用ヘルスチェック
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/rankinge/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
