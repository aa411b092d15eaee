// Package main provides archivectl, the operator CLI for the archive and
// recovery engines.  It runs the same engines as cmd/web against the
// configured portal database, with identity repairs applied inline.
//
// Exit codes: 0 success, 1 rejected input (bad ids, unknown entity, missing
// schema), 2 database or system failure.
package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/yanizio/schoolarchive/internal/apperror"
)

const (
	exitSuccess   = 0
	exitUserError = 1
	exitSysError  = 2
)

func main() {
	if err := newRootCmd(&cli{}).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
	os.Exit(exitSuccess)
}

// exitCode maps the apperror class onto the CLI contract.
func exitCode(err error) int {
	if s := apperror.Status(err); s >= http.StatusBadRequest && s < http.StatusInternalServerError {
		return exitUserError
	}
	return exitSysError
}
