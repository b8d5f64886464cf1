package config

import (
	"strings"
	"testing"

	"github.com/hkensame/kdiscovery/pkg/errors"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type validateConf struct {
	Mode    string `mapstructure:"mode"    validate:"required,oneof=provider consumer"`
	Service string `mapstructure:"service" validate:"required,kname"`
	Workers int    `mapstructure:"workers" validate:"gte=1"`
}

func TestValidatorStruct(t *testing.T) {
	va, err := NewValidator("zh")
	require.NoError(t, err)
	require.NoError(t, va.RegisterValidation("kname", "{0}只能包含小写字母与'-'", func(fl validator.FieldLevel) bool {
		return strings.Trim(fl.Field().String(), "abcdefghijklmnopqrstuvwxyz-") == ""
	}))

	assert.NoError(t, va.Struct(&validateConf{Mode: "provider", Service: "greeter", Workers: 1}))

	err = va.Struct(&validateConf{Mode: "other", Service: "Greeter"})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeIllegalUsage))
	assert.Contains(t, err.Error(), "validateConf.mode")
	assert.Contains(t, err.Error(), "service只能包含小写字母与'-'")
	assert.Contains(t, err.Error(), "validateConf.workers")
}

func TestValidatorUnknownLocale(t *testing.T) {
	_, err := NewValidator("xx")
	assert.Error(t, err)
}
