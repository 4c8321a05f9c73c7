package validation

import (
	"errors"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
)

// MaxCityLength is the longest accepted city name, in runes.
const MaxCityLength = 100

// ErrCityEmpty is returned when the city is empty or whitespace-only after trim.
var ErrCityEmpty = errors.New("city is required")

// ErrCityTooLong is returned when the city exceeds MaxCityLength runes.
var ErrCityTooLong = errors.New("city too long")

// ErrCityInvalidChars is returned when the city contains disallowed characters.
var ErrCityInvalidChars = errors.New("city contains invalid characters")

type cityQuery struct {
	City string `validate:"required,max=100,cityname"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("cityname", func(fl validator.FieldLevel) bool {
		for _, c := range fl.Field().String() {
			if !isAllowedCityRune(c) {
				return false
			}
		}
		return true
	})
	return v
}

// ValidateCity trims the input and checks it against the accepted city syntax:
// 1..MaxCityLength runes of letters, digits, space, comma, hyphen, apostrophe, period.
// Returns the trimmed city; case folding is left to the resolver.
func ValidateCity(input string) (string, error) {
	q := cityQuery{City: strings.TrimSpace(input)}
	if err := validate.Struct(q); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) || len(verrs) == 0 {
			return "", err
		}
		switch verrs[0].Tag() {
		case "required":
			return "", ErrCityEmpty
		case "max":
			return "", ErrCityTooLong
		default:
			return "", ErrCityInvalidChars
		}
	}
	return q.City, nil
}

func isAllowedCityRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsNumber(r) {
		return true
	}
	switch r {
	case ' ', ',', '-', '\'', '.':
		return true
	}
	return false
}
