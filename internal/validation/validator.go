// Package validation wraps a shared go-playground/validator instance and
// flattens its errors into one readable message.
package validation

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func get() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// FieldError is one failed constraint.
type FieldError struct {
	Field string
	Tag   string
	Param string
	Value any
}

func (fe FieldError) String() string {
	if fe.Param != "" {
		return fmt.Sprintf("%s failed %q=%s (value %v)", fe.Field, fe.Tag, fe.Param, fe.Value)
	}
	return fmt.Sprintf("%s failed %q (value %v)", fe.Field, fe.Tag, fe.Value)
}

// Error collects every failed constraint of one Struct call.
type Error struct {
	Fields []FieldError
}

func (e *Error) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed"
	}
	msgs := make([]string, len(e.Fields))
	for i, fe := range e.Fields {
		msgs[i] = fe.String()
	}
	return strings.Join(msgs, "; ")
}

// Struct validates v against its `validate` tags. It returns nil or *Error.
func Struct(v any) error {
	err := get().Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	out := &Error{Fields: make([]FieldError, 0, len(verrs))}
	for _, fe := range verrs {
		out.Fields = append(out.Fields, FieldError{
			Field: fe.Namespace(),
			Tag:   fe.Tag(),
			Param: fe.Param(),
			Value: fe.Value(),
		})
	}
	return out
}
