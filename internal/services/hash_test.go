package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContentHash(t *testing.T) {
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", ContentHash(nil))
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", ContentHash([]byte("abc")))
	assert.Equal(t, ContentHash([]byte("same bytes")), ContentHash([]byte("same bytes")))
	assert.NotEqual(t, ContentHash([]byte("a")), ContentHash([]byte("b")))
	assert.Len(t, ContentHash([]byte("%PDF-1.7")), 64)
}
