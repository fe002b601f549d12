package worksteal

import (
	"fmt"
)

// capturePanic converts a recovered value into a CapturedPanic that can be
// stored in a GroupContext and surfaced on another goroutine. The original
// error value (when there is one) is retained for errors.Is/As; everything
// else is reduced to its type name and formatted text.
func capturePanic(v any) *CapturedPanic {
	cp := &CapturedPanic{}
	switch x := v.(type) {
	case nil:
		cp.TypeName = "unidentified"
		cp.Message = "unidentified panic"
	case error:
		cp.TypeName = fmt.Sprintf("%T", x)
		cp.Message = x.Error()
		cp.value = x
	default:
		cp.TypeName = fmt.Sprintf("%T", x)
		cp.Message = fmt.Sprint(x)
	}
	return cp
}

// captureInto records cp as gc's exception and cancels the group. Only the
// caller that wins the cancellation CAS stores its panic; later panics in
// an already-cancelled group are dropped.
func captureInto(gc *GroupContext, cp *CapturedPanic) {
	if gc == nil {
		return
	}
	if gc.cancelRequested.CompareAndSwap(0, 1) {
		gc.exception.Store(cp)
		propagateCancellation(gc)
	}
}
