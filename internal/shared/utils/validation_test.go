package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateProfileID(t *testing.T) {
	assert.NoError(t, ValidateProfileID("profile-123"))
	assert.NoError(t, ValidateProfileID("Wa_Profile_7"))

	assert.Error(t, ValidateProfileID(""))
	assert.Error(t, ValidateProfileID("../etc/passwd"))
	assert.Error(t, ValidateProfileID("profile 1"))
	assert.Error(t, ValidateProfileID(strings.Repeat("a", MaxProfileIDLength+1)))
}

func TestValidateUserIDOptional(t *testing.T) {
	assert.NoError(t, ValidateUserID(""))
	assert.NoError(t, ValidateUserID("user-1"))
	assert.Error(t, ValidateUserID("user/1"))
}

func TestValidateStringNullByte(t *testing.T) {
	err := ValidateString("ab\x00c", "name", 1, 10, true)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "invalid characters")
}

func TestValidateAlertID(t *testing.T) {
	assert.NoError(t, ValidateAlertID("alert_01HV3ZJ5C8YT2M4QW9XKD6RBSN"))
	assert.Error(t, ValidateAlertID(""))
	assert.Error(t, ValidateAlertID("alert/../x"))
}
