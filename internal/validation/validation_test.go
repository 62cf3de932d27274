package validation

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Email    string `json:"email" validate:"required,email"`
	Slug     string `json:"slug" validate:"omitempty,slug"`
	Time     string `json:"eventTime" validate:"omitempty,hhmm"`
	Hosteler bool   `json:"hosteler"`
	Hostel   string `json:"hostel" validate:"required_if=Hosteler true"`
}

func TestStructReportsJSONFieldNames(t *testing.T) {
	v := New()

	tests := []struct {
		name  string
		in    sample
		field string
	}{
		{"missing email", sample{}, "email"},
		{"bad email", sample{Email: "nope"}, "email"},
		{"bad slug", sample{Email: "a@x.io", Slug: "Hack Night"}, "slug"},
		{"bad time", sample{Email: "a@x.io", Time: "25:00"}, "eventTime"},
		{"hosteler without hostel", sample{Email: "a@x.io", Hosteler: true}, "hostel"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Struct(tt.in)
			var verr *Error
			require.True(t, errors.As(err, &verr), "got %v", err)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestStructAcceptsValid(t *testing.T) {
	err := New().Struct(sample{Email: "a@x.io", Slug: "hack-night-2", Time: "18:30", Hosteler: true, Hostel: "H1"})
	assert.NoError(t, err)
}
