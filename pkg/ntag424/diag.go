package ntag424

// AuthSlotResult is the outcome of one authentication attempt.
type AuthSlotResult struct {
	Slot    byte
	Success bool
	Step    string // "step1" or "step2" on failure
	SW      uint16
	RespLen int
	Err     error
}

// KeyMismatch reports whether the attempt failed because the slot holds a
// different key (SW 91AE) rather than for a transport or protocol reason.
func (r AuthSlotResult) KeyMismatch() bool {
	return !r.Success && r.SW == SWAuthError
}

// DiagnoseAuthSlots tries key against each slot and reports per-slot results.
// Sessions from successful attempts are closed immediately. The NDEF
// application must already be selected.
func DiagnoseAuthSlots(card Card, key []byte, slots []byte, opts ...AuthOption) []AuthSlotResult {
	results := make([]AuthSlotResult, 0, len(slots))
	for _, slot := range slots {
		sess, err := AuthenticateEV2First(card, key, slot, opts...)
		result := AuthSlotResult{Slot: slot, Success: err == nil, Err: err}
		if err == nil {
			sess.Close()
		} else if step, sw, respLen, ok := ClassifyAuthError(err); ok {
			result.Step = step
			result.SW = sw
			result.RespLen = respLen
		}
		results = append(results, result)
		if IsTransportError(err) {
			break
		}
	}
	return results
}
