package main

import "github.com/journeyos/godeye/cmd"

func main() {
	cmd.Execute()
}
