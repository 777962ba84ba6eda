package provider

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStoreErrorUnwrap(t *testing.T) {
	err := &StoreError{Op: "Head", Bucket: "b", Key: "audio/001.mp3", Err: ErrNotFound}

	assert.True(t, IsNotFound(err))
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Contains(t, err.Error(), "audio/001.mp3")
	assert.Contains(t, err.Error(), "Head")
}

func TestStoreErrorWithoutKey(t *testing.T) {
	err := &StoreError{Op: "New", Bucket: "b", Err: ErrInvalidCredentials}

	assert.True(t, IsInvalidCredentials(err))
	assert.Equal(t, "New: b: invalid credentials", err.Error())
}

func TestIsNotFoundThroughWrapping(t *testing.T) {
	inner := &StoreError{Op: "Head", Bucket: "b", Key: "k", Err: ErrNotFound}
	outer := fmt.Errorf("checking remote object: %w", inner)

	assert.True(t, IsNotFound(outer))
	assert.False(t, IsNotFound(errors.New("plain")))
}
