// Package validator adds the payments binding rules to gin's validator.
package validator

import (
	"fmt"
	"regexp"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

var (
	phonePattern = regexp.MustCompile(`^\+?[0-9]{10,15}$`)

	registerOnce sync.Once
	registerErr  error
)

// Phone reports whether s is a WhatsApp destination: country and area code
// followed by the number, digits only, optional leading plus.
func Phone(s string) bool {
	return phonePattern.MatchString(s)
}

// Register installs the "phone" tag on v.
func Register(v *validator.Validate) error {
	if err := v.RegisterValidation("phone", func(fl validator.FieldLevel) bool {
		return Phone(fl.Field().String())
	}); err != nil {
		return fmt.Errorf("failed to register phone validation: %w", err)
	}
	return nil
}

// RegisterGin installs the tag on gin's default binding validator. Safe to
// call more than once.
func RegisterGin() error {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			registerErr = fmt.Errorf("unexpected gin validator engine %T", binding.Validator.Engine())
			return
		}
		registerErr = Register(v)
	})
	return registerErr
}
