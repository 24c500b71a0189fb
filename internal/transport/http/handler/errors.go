package handler

const (
	errInternalServer = "Internal server error"
	errSweepDisabled  = "Sweeper is disabled"
	errSweepTooSoon   = "A sweep was requested less than one sweep period ago"
)
