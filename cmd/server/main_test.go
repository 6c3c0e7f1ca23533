package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRoomGracePeriodDefault(t *testing.T) {
	// an empty room survives a minute before deletion
	assert.Equal(t, time.Minute, roomGracePeriod.defaultValue)
}
