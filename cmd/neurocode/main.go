// Command neurocode はNeuroCode AIの認証APIサーバー、Telegramボット、ワーカーを起動する。
//
//	neurocode [serve|worker|migrate|healthcheck|verify]
package main

import (
	"fmt"
	"os"

	"github.com/neurocode/neurocode/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "neurocode: %v\n", err)
		os.Exit(1)
	}
}
