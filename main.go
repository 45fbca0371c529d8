package main

import "github.com/clems4ever/textclf/cmd"

func main() {
	cmd.Execute()
}
