package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type sample struct {
	Email    string  `json:"email" validate:"required,email"`
	Password string  `json:"password" validate:"required,min=8"`
	Phone    *string `json:"phone,omitempty" validate:"omitempty,max=4"`
}

func TestValidate(t *testing.T) {
	assert.Nil(t, Validate(sample{Email: "a@x.com", Password: "12345678"}))

	errs := Validate(sample{Email: "nope", Password: "short"})
	assert.Equal(t, map[string]string{"email": "email", "password": "min"}, errs)

	long := "123456"
	errs = Validate(sample{Email: "a@x.com", Password: "12345678", Phone: &long})
	assert.Equal(t, map[string]string{"phone": "max"}, errs)
}
