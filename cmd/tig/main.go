package main

import "github.com/entrepeneur4lyf/tig/cmd/tig/cmd"

func main() {
	cmd.Execute()
}
