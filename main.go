package main

import "github.com/mkravets/signalhub/cmd"

func main() {
	cmd.Execute()
}
