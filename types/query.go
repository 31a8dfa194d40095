package types

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

type Validater interface {
	Validate() map[string]string
}

type QueryParams struct {
	Prompt    string `json:"prompt" validate:"required"`
	K         int    `json:"k" validate:"gte=0,lte=50"`
	Citations bool   `json:"citations"`
}

func Validate(v Validater) map[string]string {
	return v.Validate()
}

func (params *QueryParams) Validate() map[string]string {
	return fieldErrors(params)
}

// ValidateStruct runs the struct tags of v and returns a field → failed tag map.
func ValidateStruct(v any) map[string]string {
	return fieldErrors(v)
}

func fieldErrors(v any) map[string]string {
	if err := validate.Struct(v); err != nil {
		errs, ok := err.(validator.ValidationErrors)
		if !ok {
			return map[string]string{"_": err.Error()}
		}
		errors := make(map[string]string)
		for _, e := range errs {
			errors[e.Field()] = fmt.Sprintf("failed on '%s' tag", e.Tag())
		}
		return errors
	}
	return nil
}

type SearchResponse struct {
	Answer     string    `json:"answer"`
	Sources    []Source  `json:"sources"`
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
}

type HitsResponse struct {
	Query string `json:"query"`
	Hits  []Hit  `json:"hits"`
	Count int    `json:"count"`
}

type IngestResponse struct {
	DocumentID string `json:"document_id"`
	Pages      int    `json:"pages"`
	Chunks     int    `json:"chunks"`
	Replaced   int    `json:"replaced"`
}
