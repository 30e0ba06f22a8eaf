package main

import "github.com/bofamily/bo/cmd"

func main() {
	cmd.Execute()
}
