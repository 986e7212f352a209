package utils

import "errors"

var ErrorRecordNotFound = errors.New("record not found")

// ErrorEntityConflicted is returned when a write targets an entity whose
// divergence has not been resolved yet. The UI must route the operator through
// the conflict resolver instead of stacking more mutations behind it.
var ErrorEntityConflicted = errors.New("entity has an unresolved conflict")

func ErrorPanic(err error) {
	if err != nil {
		panic(err)
	}
}
