package campaign

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubtractRecipients(t *testing.T) {
	remaining := subtractRecipients(
		[]string{"a@x.com", "b@x.com", "c@x.com"},
		[]string{"b@x.com"})
	assert.Equal(t, []string{"a@x.com", "c@x.com"}, remaining)

	assert.Equal(t, []string{"a@x.com"}, subtractRecipients([]string{"a@x.com"}, nil))
}
