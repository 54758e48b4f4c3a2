package main

import "github.com/keybound/keyshare/cmd"

func main() {
	cmd.Execute()
}
