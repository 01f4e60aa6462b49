package main

import "github.com/devicelab-dev/webview-bridge/pkg/cli"

func main() {
	cli.Execute()
}
