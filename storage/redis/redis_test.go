package redis

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChannel(t *testing.T) {
	assert.Equal(t, "quotes:AAPL", Channel("AAPL"))
	assert.Equal(t, "quotes:BRK-B", Channel(" brk-b "))
}
