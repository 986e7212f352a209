package utils

import (
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// ValidateStruct runs the shared validator over an input struct. Enqueue-side
// validation is the last gate before a payload becomes durable; a payload that
// fails here never reaches the queue, so it can never go dead on the server.
func ValidateStruct(input any) error {
	return validate.Struct(input)
}
