package main

import "github.com/scalytics/core-orchestrator/cli"

var version = "0.0.0-dev"

func main() {
	cli.Execute(version)
}
