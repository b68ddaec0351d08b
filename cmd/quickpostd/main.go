package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// main 是 QuickPostKit 守护进程与运维命令的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
