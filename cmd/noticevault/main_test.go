package main

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/wesm/noticevault/internal/notice"
	nsync "github.com/wesm/noticevault/internal/sync"
)

func TestExitCode(t *testing.T) {
	live := context.Background()
	interrupted, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name string
		ctx  context.Context
		err  error
		want int
	}{
		{"success", live, nil, exitOK},
		{"interrupted", interrupted, fmt.Errorf("sync: %w", context.Canceled), exitInterrupted},
		{"canceled without signal", live, context.Canceled, exitError},
		{"bad range", live, notice.Invalid("end", "range exceeds %d days", 92), exitUsage},
		{"sync busy", live, fmt.Errorf("manual sync: %w", nsync.ErrSyncInProgress), exitTempFail},
		{"store locked", live, &notice.TransientStoreError{Op: "insert notice", Err: errors.New("database is locked")}, exitTempFail},
		{"other", live, errors.New("boom"), exitError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exitCode(tt.ctx, tt.err); got != tt.want {
				t.Errorf("exitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}
