package tools

import (
	"encoding/json"
	"math"
	"strings"

	"github.com/spf13/cast"
	"github.com/xela07ax/agv-logistics-coordinator/internal/domain"
)

type ParamType string

const (
	TypeString  ParamType = "string"
	TypeInteger ParamType = "integer"
	TypeNumber  ParamType = "number"
	TypeBoolean ParamType = "boolean"
	TypeObject  ParamType = "object"
)

type ParamSpec struct {
	Name        string    `json:"name"`
	Type        ParamType `json:"type"`
	Description string    `json:"description"`
	Required    bool      `json:"required"`
}

func required(name string, t ParamType, desc string) ParamSpec {
	return ParamSpec{Name: name, Type: t, Description: desc, Required: true}
}

func optional(name string, t ParamType, desc string) ParamSpec {
	return ParamSpec{Name: name, Type: t, Description: desc}
}

// Args - аргументы после приведения типов. Отсутствующие необязательные
// параметры отдают нулевое значение.
type Args map[string]any

func (a Args) Has(name string) bool {
	_, ok := a[name]
	return ok
}

func (a Args) String(name string) string {
	s, _ := a[name].(string)
	return s
}

// StringOr - значение или запасное, если параметр не передан или пуст.
func (a Args) StringOr(name, fallback string) string {
	if s := a.String(name); s != "" {
		return s
	}
	return fallback
}

func (a Args) Int(name string) int {
	n, _ := a[name].(int)
	return n
}

func (a Args) Float(name string) float64 {
	f, _ := a[name].(float64)
	return f
}

// FloatPtr - nil, если параметр не передан.
func (a Args) FloatPtr(name string) *float64 {
	f, ok := a[name].(float64)
	if !ok {
		return nil
	}
	return &f
}

func (a Args) Bool(name string) bool {
	b, _ := a[name].(bool)
	return b
}

func (a Args) Object(name string) map[string]any {
	m, _ := a[name].(map[string]any)
	return m
}

// coerce приводит сырые аргументы к типам схемы. Лишние аргументы отбрасываются.
// Пустая строка для необязательного параметра считается отсутствием значения.
func coerce(tool string, schema []ParamSpec, raw map[string]any) (Args, *domain.Error) {
	op := "tools." + tool
	args := make(Args, len(schema))
	for _, p := range schema {
		v, ok := raw[p.Name]
		if s, isStr := v.(string); ok && isStr && strings.TrimSpace(s) == "" && p.Type != TypeString {
			ok = false
		}
		if !ok || v == nil {
			if p.Required {
				return nil, domain.NewError(domain.KindMissingField, op, tool, "missing required argument %q", p.Name).
					With("field", p.Name)
			}
			continue
		}

		cv, err := coerceValue(p.Type, v)
		if err != nil {
			return nil, domain.NewError(domain.KindInvalidInput, op, tool, "argument %q: expected %s, got %v (%T)", p.Name, p.Type, v, v).
				With("field", p.Name).
				With("expected", string(p.Type))
		}
		if p.Required && p.Type == TypeString && strings.TrimSpace(cv.(string)) == "" {
			return nil, domain.NewError(domain.KindMissingField, op, tool, "missing required argument %q", p.Name).
				With("field", p.Name)
		}
		args[p.Name] = cv
	}
	return args, nil
}

type coerceError struct{}

func (coerceError) Error() string { return "cannot coerce" }

func coerceValue(t ParamType, v any) (any, error) {
	if n, ok := v.(json.Number); ok {
		v = n.String()
	}
	switch t {
	case TypeString:
		return cast.ToStringE(v)
	case TypeInteger:
		return toInt(v)
	case TypeNumber:
		if _, isBool := v.(bool); isBool {
			return nil, coerceError{}
		}
		f, err := cast.ToFloat64E(v)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, coerceError{}
		}
		return f, nil
	case TypeBoolean:
		return cast.ToBoolE(v)
	case TypeObject:
		if s, ok := v.(string); ok {
			var m map[string]any
			if err := json.Unmarshal([]byte(s), &m); err != nil {
				return nil, err
			}
			return m, nil
		}
		return cast.ToStringMapE(v)
	}
	return v, nil
}

// toInt принимает 5, 5.0, "5", "5.0" и json.Number("5"), но не 5.5 и не true.
func toInt(v any) (int, error) {
	if _, isBool := v.(bool); isBool {
		return 0, coerceError{}
	}
	if s, ok := v.(string); ok {
		v = strings.TrimSpace(s)
	}
	f, err := cast.ToFloat64E(v)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, coerceError{}
	}
	if f > math.MaxInt32 || f < math.MinInt32 {
		return 0, coerceError{}
	}
	return int(f), nil
}
