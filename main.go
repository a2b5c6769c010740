package main

import "github.com/xrsl/skipper/cmd"

func main() {
	cmd.Execute()
}
