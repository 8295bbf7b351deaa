package core

import (
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type probe struct {
	Serial   string `json:"serial_number" validate:"required,serial"`
	Metric   string `json:"metric" validate:"omitempty,metric"`
	Timezone string `json:"timezone" validate:"tz"`
}

func TestInitValidators(t *testing.T) {
	validate := validator.New()
	translator := NewTranslator()
	InitValidators(validate, translator)

	tests := []struct {
		name string
		in   probe
		want map[string]string
	}{
		{"valid", probe{Serial: "LCK_001-b", Metric: "water_leak", Timezone: "Africa/Nairobi"}, nil},
		{"missing serial", probe{}, map[string]string{"serial_number": "this field is required"}},
		{"bad serial", probe{Serial: "-CAM 1"}, map[string]string{
			"serial_number": "may only contain letters, digits, dashes and underscores",
		}},
		{"bad metric & zone", probe{Serial: "CAM1", Metric: "Temp!", Timezone: "Mars/Olympus"}, map[string]string{
			"metric":   "must be a lowercase name such as smoke or water_leak",
			"timezone": "unknown time zone",
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validate.Struct(tt.in)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			var fieldErrs validator.ValidationErrors
			require.ErrorAs(t, err, &fieldErrs)
			got := make(map[string]string, len(fieldErrs))
			for _, fe := range fieldErrs {
				got[fe.Field()] = fe.Translate(translator)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}
