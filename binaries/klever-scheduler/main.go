package main

import (
	"errors"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/ldv-klever/klever-scheduler/cli"
	kerrors "github.com/ldv-klever/klever-scheduler/common/errors"
)

func main() {
	if err := cli.NewCLI().Exec(); err != nil {
		log.Error(err)
		var exitErr *kerrors.ExitCodeError
		if errors.As(err, &exitErr) {
			os.Exit(int(exitErr.GetExitCode()))
		}
		os.Exit(1)
	}
}
