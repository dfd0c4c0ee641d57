package main

import "auditlog/cmd/auditctl/cmd"

func main() {
	cmd.Execute()
}
