package main

import "github.com/jfmyers9/cadenza/cmd"

func main() {
	cmd.Execute()
}
