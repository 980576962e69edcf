package main

import "github.com/khaledhikmat/df-go/cmd"

func main() {
	cmd.Execute()
}
