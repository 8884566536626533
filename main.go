package main

import "bucketd/internal/cli"

func main() {
	cli.Execute()
}
