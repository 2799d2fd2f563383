package main

import (
	"context"
	"os"

	"github.com/MimeLyc/jobsync/internal/cli"
	"github.com/MimeLyc/jobsync/pkg/log"
)

func main() {
	if err := cli.Execute(context.Background(), os.Args[1:]); err != nil {
		log.Error("%v", err)
		os.Exit(1)
	}
}
