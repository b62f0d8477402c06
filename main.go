package main

import (
	"os"

	"github.com/opendiscourse/congress-data-service/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
