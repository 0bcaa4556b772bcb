package booking

import "time"

const (
	operationRecompute = "recompute"

	operationStatusOK    = "ok"
	operationStatusError = "error"

	defaultStormTTL = 1500 * time.Millisecond
)
