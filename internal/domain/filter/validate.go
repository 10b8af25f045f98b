package filter

import (
	"errors"
	"sync"

	"github.com/go-playground/validator/v10"

	apperrors "github.com/Ayoub94x/esa-forecast-manager/internal/domain/errors"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func queryValidator() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New()
		_ = v.RegisterValidation("sortcolumn", func(fl validator.FieldLevel) bool {
			return IsSortColumn(fl.Field().String())
		})
		v.RegisterStructValidation(func(sl validator.StructLevel) {
			r := sl.Current().Interface().(DateRange)
			if r.End.Before(r.Start) {
				sl.ReportError(r.End, "End", "end", "gtefield", "Start")
			}
		}, DateRange{})
		v.RegisterStructValidation(func(sl validator.StructLevel) {
			r := sl.Current().Interface().(NumericRange)
			if r.Min != nil && r.Max != nil && r.Min.GreaterThan(*r.Max) {
				sl.ReportError(r.Max, "Max", "max", "gtefield", "Min")
			}
		}, NumericRange{})
		validate = v
	})
	return validate
}

// Validate checks q for values a source cannot execute. A nil query is invalid.
func Validate(q *Query) error {
	if q == nil {
		return apperrors.NewValidationError("INVALID_FILTER", "filter query is required")
	}

	err := queryValidator().Struct(q)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return apperrors.NewValidationError("INVALID_FILTER", "filter query is invalid").WithCause(err)
	}

	details := make(map[string]interface{}, len(fieldErrs))
	for _, fe := range fieldErrs {
		details[fe.Namespace()] = fe.Tag()
	}
	return apperrors.NewValidationError("INVALID_FILTER", "filter query is invalid").WithDetails(details)
}
