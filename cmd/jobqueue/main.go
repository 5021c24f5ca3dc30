package main

import "github.com/ronittamrakar/jobqueue/internal/cli"

func main() {
	cli.Execute()
}
