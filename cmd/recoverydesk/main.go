package main

import "github.com/jmcleod/recoverydesk/cmd/recoverydesk/cmd"

func main() {
	cmd.Execute()
}
