package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/wesm/noticevault/cmd/noticevault/cmd"
	"github.com/wesm/noticevault/internal/notice"
	nsync "github.com/wesm/noticevault/internal/sync"
)

// Exit codes. Scripts driving `noticevault sync` from cron retry on
// exitTempFail and give up on exitUsage.
const (
	exitOK          = 0
	exitError       = 1
	exitUsage       = 2  // bad date range or argument
	exitTempFail    = 75 // sysexits EX_TEMPFAIL: sync busy or store locked
	exitInterrupted = 130
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cmd.ExecuteContext(ctx)
	code := exitCode(ctx, err)
	stop()
	os.Exit(code)
}

// exitCode maps the command result to a process exit status. Cobra has
// already printed err.
func exitCode(ctx context.Context, err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
		return exitInterrupted
	case notice.IsValidation(err):
		return exitUsage
	case errors.Is(err, nsync.ErrSyncInProgress), notice.IsTransient(err):
		return exitTempFail
	default:
		return exitError
	}
}
