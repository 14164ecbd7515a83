package main

import (
	cmd "github.com/rohmanhakim/atlas-crawler/internal/cli"
)

func main() {
	cmd.Execute()
}
