package types

import "fmt"

// TxStatus is the lifecycle state of a queued transaction.
type TxStatus int

const (
	// TxStatusProposed is the state of a freshly enqueued transaction.
	TxStatusProposed TxStatus = iota
	// TxStatusSeen means the processor picked the transaction up at least once.
	TxStatusSeen
	// TxStatusSent means the last submission returned a hash.
	TxStatusSent
	// TxStatusMined means a receipt was observed for one of the hashes.
	TxStatusMined
	// TxStatusSuccess is terminal: confirmed with receipt status 1.
	TxStatusSuccess
	// TxStatusFailed is terminal: confirmed with receipt status 0.
	TxStatusFailed
	// TxStatusDropped is terminal: abandoned by the attempt budget or by
	// pre-flight revert policy.
	TxStatusDropped
	// TxStatusUnsent means the current attempt could not be put on wire;
	// the transaction returns to the pool.
	TxStatusUnsent
	// TxStatusTimeout means no receipt arrived within the attempt window.
	TxStatusTimeout
	// TxStatusUnconfirmed means the transaction mined but confirmation was
	// not observed within the block window.
	TxStatusUnconfirmed
)

var statusNames = map[TxStatus]string{
	TxStatusProposed:    "PROPOSED",
	TxStatusSeen:        "SEEN",
	TxStatusSent:        "SENT",
	TxStatusMined:       "MINED",
	TxStatusSuccess:     "SUCCESS",
	TxStatusFailed:      "FAILED",
	TxStatusDropped:     "DROPPED",
	TxStatusUnsent:      "UNSENT",
	TxStatusTimeout:     "TIMEOUT",
	TxStatusUnconfirmed: "UNCONFIRMED",
}

var statusValues = func() map[string]TxStatus {
	m := make(map[string]TxStatus, len(statusNames))
	for s, n := range statusNames {
		m[n] = s
	}
	return m
}()

func (s TxStatus) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return fmt.Sprintf("TxStatus(%d)", int(s))
}

// IsTerminal reports whether no further transition is allowed from s.
func (s TxStatus) IsTerminal() bool {
	return s == TxStatusSuccess || s == TxStatusFailed || s == TxStatusDropped
}

// StatusFromString parses a stored status name.
func StatusFromString(name string) (TxStatus, error) {
	s, ok := statusValues[name]
	if !ok {
		return 0, fmt.Errorf("%w: unknown status %q", ErrInvalidFormat, name)
	}
	return s, nil
}
