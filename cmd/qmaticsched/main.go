package main

import "github.com/example/qmatic-scheduler/cmd"

func main() {
	cmd.Execute()
}
