package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOptionsDefaults(t *testing.T) {
	opts := NewOptions()
	assert.Equal(t, DriverSQLite, opts.Driver)
	assert.NotEmpty(t, opts.DSN)
	assert.NoError(t, opts.Validate())
}

func TestValidateRejectsUnknownDriver(t *testing.T) {
	opts := NewOptions()
	opts.Driver = "oracle"
	assert.Error(t, opts.Validate())
}

func TestValidateRequiresDSN(t *testing.T) {
	opts := NewOptions()
	opts.DSN = ""
	assert.Error(t, opts.Validate())
}

func TestStringRedactsDSN(t *testing.T) {
	opts := NewOptions()
	opts.DSN = "user:secret@tcp(localhost:3306)/db"
	assert.NotContains(t, opts.String(), "secret")
}

func TestMarshalJSONRedactsDSN(t *testing.T) {
	opts := NewOptions()
	opts.DSN = "host=localhost password=secret"
	data, err := opts.MarshalJSON()
	require.NoError(t, err)
	assert.NotContains(t, string(data), "secret")
}

func TestNewWithSQLiteMemory(t *testing.T) {
	opts := NewOptions()
	opts.DSN = ":memory:"

	client, err := New(opts)
	require.NoError(t, err)
	defer client.Close()

	assert.Equal(t, "sqlite", client.Name())
	assert.NoError(t, client.Ping(context.Background()))
	assert.NotNil(t, client.DB())
}

func TestNewNilOptions(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)
}
