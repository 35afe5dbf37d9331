package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/angelmondragon/events-collector/internal/analytics/types"
	"github.com/angelmondragon/events-collector/pkg/enums"
	pkgerrors "github.com/angelmondragon/events-collector/pkg/errors"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// ErrSchemaValidation matches every SchemaValidationError via errors.Is.
var ErrSchemaValidation = errors.New("schema validation failed")

// Stage names the step at which a message was rejected.
type Stage string

const (
	StageDecode   Stage = "decode"
	StageEnvelope Stage = "envelope"
	StagePayload  Stage = "payload"
)

// SchemaValidationError reports a rejected message together with the raw bytes for replay.
type SchemaValidationError struct {
	Stage        Stage
	EventType    enums.AnalyticsEventType
	EventVersion int
	Fields       map[string]string
	Raw          []byte
	Err          error
}

func (e *SchemaValidationError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Stage))
	b.WriteString(" validation failed")
	if e.EventType != "" {
		fmt.Fprintf(&b, " for %s v%d", e.EventType, e.EventVersion)
	}
	if len(e.Fields) > 0 {
		keys := make([]string, 0, len(e.Fields))
		for k := range e.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, k+" "+e.Fields[k])
		}
		b.WriteString(": ")
		b.WriteString(strings.Join(parts, "; "))
	} else if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *SchemaValidationError) Is(target error) bool {
	return target == ErrSchemaValidation
}

func (e *SchemaValidationError) Unwrap() error {
	return e.Err
}

// Code classifies the failure for skip accounting.
func (e *SchemaValidationError) Code() pkgerrors.Code {
	if e.Stage == StageDecode {
		return pkgerrors.CodeDecode
	}
	return pkgerrors.CodeValidation
}

// Validator decodes envelopes and validates payloads against their registered schema.
// It holds no mutable state and is safe to share.
type Validator struct {
	validate *validator.Validate
}

func New() *Validator {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		tag := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if tag == "" || tag == "-" {
			return f.Name
		}
		return tag
	})
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})
	// Both stores hold identifiers as signed 64-bit integers at most.
	v.RegisterAlias("id", "required,lte=9223372036854775807")
	_ = v.RegisterValidation("decimal_places", decimalPlaces)
	return &Validator{validate: v}
}

// decimalPlaces reads the original decimal field, since the custom type func hands the
// tag validators a float64.
func decimalPlaces(fl validator.FieldLevel) bool {
	places, err := strconv.ParseInt(fl.Param(), 10, 32)
	if err != nil {
		return false
	}
	parent := reflect.Indirect(fl.Parent())
	if parent.Kind() != reflect.Struct {
		return false
	}
	field := reflect.Indirect(parent.FieldByName(fl.StructFieldName()))
	if !field.IsValid() {
		return true
	}
	d, ok := field.Interface().(decimal.Decimal)
	if !ok {
		return false
	}
	return d.Equal(d.Truncate(int32(places)))
}

// DecodeEnvelope parses raw broker bytes into a structurally valid envelope.
func (v *Validator) DecodeEnvelope(raw []byte) (types.Envelope, error) {
	if !json.Valid(raw) {
		return types.Envelope{}, &SchemaValidationError{
			Stage: StageDecode,
			Raw:   raw,
			Err:   errors.New("message value is not valid JSON"),
		}
	}

	var env types.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return types.Envelope{}, &SchemaValidationError{
			Stage:  StageEnvelope,
			Fields: typeErrorFields(err),
			Raw:    raw,
			Err:    err,
		}
	}

	fields := map[string]string{}
	if err := v.validate.Struct(env); err != nil {
		collectFieldErrors(err, fields)
	}
	if _, missing := fields["payload"]; !missing && !env.HasObjectPayload() {
		fields["payload"] = "must be an object"
	}
	if len(fields) > 0 {
		return types.Envelope{}, &SchemaValidationError{
			Stage:        StageEnvelope,
			EventType:    env.EventType,
			EventVersion: env.EventVersion,
			Fields:       fields,
			Raw:          raw,
			Err:          errors.New("invalid envelope"),
		}
	}
	return env, nil
}

// ValidatePayload decodes env.Payload into target and runs its validate tags.
func (v *Validator) ValidatePayload(env types.Envelope, target any, raw []byte) error {
	fail := func(fields map[string]string, err error) error {
		return &SchemaValidationError{
			Stage:        StagePayload,
			EventType:    env.EventType,
			EventVersion: env.EventVersion,
			Fields:       fields,
			Raw:          raw,
			Err:          err,
		}
	}

	if err := json.Unmarshal(env.Payload, target); err != nil {
		return fail(typeErrorFields(err), err)
	}
	if err := v.validate.Struct(target); err != nil {
		fields := map[string]string{}
		collectFieldErrors(err, fields)
		return fail(fields, err)
	}
	return nil
}

func collectFieldErrors(err error, into map[string]string) {
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		into["_"] = err.Error()
		return
	}
	for _, fieldErr := range errs {
		into[fieldErr.Field()] = validationMessage(fieldErr)
	}
}

func typeErrorFields(err error) map[string]string {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		return map[string]string{typeErr.Field: "must be " + typeErr.Type.String()}
	}
	return nil
}

func validationMessage(fe validator.FieldError) string {
	switch fe.ActualTag() {
	case "required":
		return "is required"
	case "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "gtefield":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "email":
		return "must be a valid email"
	case "decimal_places":
		return fmt.Sprintf("must have at most %s decimal places", fe.Param())
	}
	return "is invalid"
}
