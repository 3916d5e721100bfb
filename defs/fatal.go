package defs

import (
	"fmt"
	"runtime"
	"sync"
)

// Fatal reports an invariant violation per spec.md §7 class 1: it prints a
// diagnostic through an always-available path and then spins forever,
// freezing the calling hart without taking down the others. Adapted from
// biscuit's caller.Callerdump, which walked runtime.Caller frames to show
// the call chain leading to a suspicious condition; here the same walk
// runs unconditionally on the fatal path instead of behind a sampling flag.
func Fatal(format string, args ...interface{}) {
	fatalOnce(fmt.Sprintf(format, args...))
	select {}
}

var fatalMu sync.Mutex

func fatalOnce(msg string) {
	fatalMu.Lock()
	defer fatalMu.Unlock()
	fmt.Printf("kernel panic: %s\n", msg)
	dumpCallers(2)
}

// dumpCallers prints the call stack starting at the given skip depth,
// mirroring biscuit's Callerdump.
func dumpCallers(skip int) {
	i := skip
	for {
		_, f, l, ok := runtime.Caller(i)
		if !ok {
			break
		}
		fmt.Printf("\t<-%s:%d\n", f, l)
		i++
	}
}
