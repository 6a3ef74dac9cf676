package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateUserCredential(t *testing.T) {
	db := setupTestDB(t)

	cred, err := CreateUserCredential(db, 1, "dashboard")
	require.NoError(t, err)
	assert.NotZero(t, cred.ID)
	assert.Len(t, cred.ApiKey, 32)
	assert.Len(t, cred.ApiSecret, 64)
	assert.True(t, cred.Enabled)
}

func TestGetUserCredentialByApiSecretAndApiKey(t *testing.T) {
	db := setupTestDB(t)

	cred, err := CreateUserCredential(db, 1, "dashboard")
	require.NoError(t, err)

	found, err := GetUserCredentialByApiSecretAndApiKey(db, cred.ApiKey, cred.ApiSecret)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, cred.ID, found.ID)

	missing, err := GetUserCredentialByApiSecretAndApiKey(db, cred.ApiKey, "wrong")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestDisabledCredentialRejected(t *testing.T) {
	db := setupTestDB(t)

	cred, err := CreateUserCredential(db, 1, "dashboard")
	require.NoError(t, err)

	require.NoError(t, db.Model(cred).Update("enabled", false).Error)

	found, err := GetUserCredentialByApiSecretAndApiKey(db, cred.ApiKey, cred.ApiSecret)
	require.NoError(t, err)
	assert.Nil(t, found)
}
