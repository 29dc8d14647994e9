package cprint

import (
	"sync"

	"github.com/fatih/color"
)

var (
	// mu is used to synchronize writes from multiple goroutines.
	mu sync.Mutex
	// EnableOutput turns trace printing on. Tracing is opt-in: a
	// debug store only prints when this is set.
	EnableOutput bool
)

func conditionalPrintln(fn func(...interface{}), a ...interface{}) {
	if !EnableOutput {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	fn(a...)
}

var (
	dispatchPrintln = color.New(color.FgGreen).PrintlnFunc()
	rollbackPrintln = color.New(color.FgRed).PrintlnFunc()
	commitPrintln   = color.New(color.FgYellow).PrintlnFunc()

	// DispatchPrintln is fmt.Println with green as foreground color.
	DispatchPrintln = func(a ...interface{}) {
		conditionalPrintln(dispatchPrintln, a...)
	}

	// RollbackPrintln is fmt.Println with red as foreground color.
	RollbackPrintln = func(a ...interface{}) {
		conditionalPrintln(rollbackPrintln, a...)
	}

	// CommitPrintln is fmt.Println with yellow as foreground color.
	CommitPrintln = func(a ...interface{}) {
		conditionalPrintln(commitPrintln, a...)
	}
)
