package main

import "webloop/cmd"

func main() {
	cmd.Execute()
}
