package queue

import (
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func TestToEntry(t *testing.T) {
	msg := redis.XMessage{ID: "1-0", Values: map[string]interface{}{"task_id": "42"}}
	entry, ok := toEntry(msg)
	assert.True(t, ok)
	assert.Equal(t, int64(42), entry.TaskID)
	assert.Equal(t, "1-0", entry.MessageID)
}

func TestToEntryMissingField(t *testing.T) {
	msg := redis.XMessage{ID: "2-0", Values: map[string]interface{}{"other": "x"}}
	_, ok := toEntry(msg)
	assert.False(t, ok)
}

func TestToEntryNonNumericTaskID(t *testing.T) {
	msg := redis.XMessage{ID: "3-0", Values: map[string]interface{}{"task_id": "not-a-number"}}
	_, ok := toEntry(msg)
	assert.False(t, ok)
}
