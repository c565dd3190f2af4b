package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/unclebandit/broadcast-dispatcher/internal/errors"
	"github.com/unclebandit/broadcast-dispatcher/internal/model"
)

type request struct {
	Name    string             `json:"name" validate:"required"`
	Channel string             `json:"channel" validate:"channel"`
	Items   []string           `json:"items" validate:"min=1"`
	Pacing  model.PacingConfig `json:"pacing"`
}

func TestValidateStructPasses(t *testing.T) {
	err := ValidateStruct(request{Name: "x", Channel: "sms", Items: []string{"a"}, Pacing: model.DefaultPacing()})
	assert.NoError(t, err)
}

func TestValidateStructReportsJSONNames(t *testing.T) {
	p := model.DefaultPacing()
	p.MinDelaySeconds = 20
	p.MaxDelaySeconds = 10
	p.BatchSize = 0

	err := ValidateStruct(request{Channel: "fax", Pacing: p})
	require.Error(t, err)
	assert.True(t, appErrors.IsValidation(err))

	msg := err.Error()
	assert.Contains(t, msg, "name is required")
	assert.Contains(t, msg, "channel must be one of sms, whatsapp, email")
	assert.Contains(t, msg, "items must have at least 1")
	assert.Contains(t, msg, "pacing.max_delay_seconds must not be less than min_delay_seconds")
	assert.Contains(t, msg, "pacing.batch_size must be at least 1")
}
