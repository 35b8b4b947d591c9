package cmd

import (
	"context"
	"fmt"
	"os"
	"runtime/debug"

	"github.com/potatman/EventHorizon-sub000/pkg/log"
)

// HandleAppPanic must be deferred directly in main. It logs the panic with its stack and exits with code 1.
func HandleAppPanic(ctx context.Context, logger log.Logger) {
	msg := recover()
	if msg == nil {
		return
	}

	logger.WithField("panic", log.Fields{
		"message": fmt.Sprintf("%v", msg),
		"stack":   string(debug.Stack()),
	}).Error(ctx, "app failed with panic")
	os.Exit(1)
}
