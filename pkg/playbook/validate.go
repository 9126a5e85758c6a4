package playbook

import (
	"regexp"

	"github.com/go-playground/validator/v10"
)

var serialPattern = regexp.MustCompile(`^([0-9]+|[0-9]+(\.[0-9]+)?%)$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// serial entries are a host count or a percentage of the play's hosts
	if err := v.RegisterValidation("serial", func(fl validator.FieldLevel) bool {
		return serialPattern.MatchString(fl.Field().String())
	}); err != nil {
		panic(err)
	}
	return v
}

// Validate checks the play-level keywords.
func (p *Play) Validate() error {
	if err := validate.Struct(p); err != nil {
		return buildErrorf("invalid play %q: %v", p.String(), err)
	}
	return nil
}
