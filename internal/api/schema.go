package api

import (
	"fmt"
	"strconv"
	"strings"
)

// Field describes one column of the risk-indicator form
type Field struct {
	Name string
	Kind Kind
}

// Schema is the fixed field set every model is trained on, in training column order.
var Schema = []Field{
	{"HeartDisease", KindCategorical},
	{"BMI", KindNumeric},
	{"Smoking", KindCategorical},
	{"AlcoholDrinking", KindCategorical},
	{"Stroke", KindCategorical},
	{"PhysicalHealth", KindNumeric},
	{"MentalHealth", KindNumeric},
	{"DiffWalking", KindCategorical},
	{"Sex", KindCategorical},
	{"AgeCategory", KindCategorical},
	{"Race", KindCategorical},
	{"Diabetic", KindCategorical},
	{"PhysicalActivity", KindCategorical},
	{"GenHealth", KindCategorical},
	{"SleepTime", KindNumeric},
	{"Asthma", KindCategorical},
	{"KidneyDisease", KindCategorical},
}

// TargetColumn is the label column of the reference dataset.
const TargetColumn = "SkinCancer"

// UserFields are the fields collected from the form; the rest take Defaults.
var UserFields = []string{
	"HeartDisease", "BMI", "Smoking", "Sex", "AgeCategory", "PhysicalActivity", "GenHealth",
}

// Defaults fills fields the form does not ask for.
var Defaults = map[string]Value{
	"AlcoholDrinking": Cat("No"),
	"Stroke":          Cat("No"),
	"PhysicalHealth":  Num(0),
	"MentalHealth":    Num(0),
	"DiffWalking":     Cat("No"),
	"Race":            Cat("White"),
	"Diabetic":        Cat("No"),
	"SleepTime":       Num(7),
	"Asthma":          Cat("No"),
	"KidneyDisease":   Cat("No"),
}

// SchemaColumns returns the field names in training order.
func SchemaColumns() []string {
	cols := make([]string, len(Schema))
	for i, f := range Schema {
		cols[i] = f.Name
	}
	return cols
}

// KindOf returns the declared kind for a column. Unknown columns are categorical.
func KindOf(column string) Kind {
	for _, f := range Schema {
		if f.Name == column {
			return f.Kind
		}
	}
	return KindCategorical
}

// ParseValue converts raw text into a Value of the column's declared kind.
func ParseValue(column, raw string) (Value, error) {
	raw = strings.TrimSpace(raw)
	if KindOf(column) == KindNumeric {
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return Value{}, fmt.Errorf("%s: %q is not a number", column, raw)
		}
		return Num(f), nil
	}
	return Cat(raw), nil
}

// PrepareInput builds a full schema row from the user-supplied form fields.
// Any schema field present in form overrides its default.
func PrepareInput(form map[string]string) (InputRow, error) {
	for _, name := range UserFields {
		if strings.TrimSpace(form[name]) == "" {
			return InputRow{}, fmt.Errorf("missing required field %s", name)
		}
	}

	cols := SchemaColumns()
	vals := make([]Value, len(cols))
	for i, c := range cols {
		if raw, ok := form[c]; ok && strings.TrimSpace(raw) != "" {
			v, err := ParseValue(c, raw)
			if err != nil {
				return InputRow{}, err
			}
			vals[i] = v
			continue
		}
		d, ok := Defaults[c]
		if !ok {
			return InputRow{}, fmt.Errorf("missing required field %s", c)
		}
		vals[i] = d
	}
	return NewInputRow(cols, vals)
}
