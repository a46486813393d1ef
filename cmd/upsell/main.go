package main

import (
	"errors"
	"os"

	goflags "github.com/jessevdk/go-flags"
)

func main() {
	env := newEnv(os.Stdin, os.Stdout)
	if err := run(env, os.Args[1:], goflags.Default); err != nil {
		var flagsErr *goflags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == goflags.ErrHelp {
			return
		}
		os.Exit(1)
	}
}
