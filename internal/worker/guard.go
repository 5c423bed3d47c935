package worker

import (
	"fmt"
	"runtime/debug"

	"github.com/nabbar/bifrost/internal/bferr"
	"github.com/nabbar/bifrost/internal/logx"
)

// Guard runs fn, recovering any panic at the task's outermost boundary
// and converting it into a KindInternal error, logged with a stack trace.
// Grounded on the original implementation's error-recovery module
// (original_source/src/error_recovery.rs), which the distilled spec only
// references implicitly via "panics — surfaced as 500, logged with
// context" (spec §7). release is always invoked exactly once, panic or
// not, matching the admission contract.
func Guard(log *logx.Logger, release func(), fn func() error) (err error) {
	defer release()
	defer func() {
		if r := recover(); r != nil {
			stack := string(debug.Stack())
			err = bferr.New(bferr.KindInternal, fmt.Sprintf("panic: %v", r))
			if log != nil {
				log.With(logx.Fields{"stack": stack}).WithError(err).Error("recovered panic in connection task")
			}
		}
	}()

	return fn()
}
