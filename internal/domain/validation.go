package domain

type ValidationStatus string

const (
	ValidationIdle    ValidationStatus = "IDLE"
	ValidationLoading ValidationStatus = "LOADING"
	ValidationSuccess ValidationStatus = "SUCCESS"
	ValidationFailure ValidationStatus = "FAILURE"
)
