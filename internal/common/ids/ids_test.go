package ids

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewRunId(t *testing.T) {
	id := NewRunId()

	assert.Len(t, id, 26)
	assert.Regexp(t, regexp.MustCompile(`^[0-9a-z]+$`), id)
}

func TestNewRunId_Increasing(t *testing.T) {
	previous := NewRunId()
	for i := 0; i < 1000; i++ {
		next := NewRunId()
		assert.Greater(t, next, previous)
		previous = next
	}
}
