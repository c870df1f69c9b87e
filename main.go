/*
Catbike detects bicycle trips in a stream of activity classifications and
location fixes, stores them, and reports distance statistics.

Use:

	zcat ~/tdata/edge.json.gz | catbike replay
	catbike checkin
	catbike stats --at 2014-04-18
*/
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
