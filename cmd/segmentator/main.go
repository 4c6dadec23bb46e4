package main

import (
	"os"

	"github.com/Brownie44l1/segmentator/internal/cli"
)

func main() {
	os.Exit(int(cli.Run()))
}
