package gcs

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestObjectName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "banks.csv", ObjectName("", "/data/out/banks.csv"))
	assert.Equal(t, "poi/2024/banks.csv", ObjectName("/poi/2024/", "banks.csv"))
	assert.Equal(t, "poi/banks.csv", ObjectName("poi", "./out/banks.csv"))
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	assert.Error(t, err)
}
