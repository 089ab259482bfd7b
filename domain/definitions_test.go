package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWorkItemKeyPair(t *testing.T) {
	k := NewWorkItemKey("drivers/usb/core.o", "memory safety", "smg")
	assert.Equal(t, PairKey{"drivers/usb/core.o", "memory safety"}, k.Pair())
	assert.Equal(t, "drivers/usb/core.o/memory safety/smg", k.String())
}

func TestLimitReasonText(t *testing.T) {
	var r LimitReason
	assert.NoError(t, r.UnmarshalText([]byte("OOM")))
	assert.Equal(t, OutOfMemory, r)
	assert.True(t, r.IsLimitViolation())

	assert.NoError(t, r.UnmarshalText([]byte("")))
	assert.Equal(t, NoLimit, r)
	assert.False(t, r.IsLimitViolation())

	assert.Error(t, r.UnmarshalText([]byte("segfault")))
}

func TestTaskStatusJSON(t *testing.T) {
	var v struct {
		Status TaskStatus `json:"status"`
	}
	assert.NoError(t, json.Unmarshal([]byte(`{"status":"finished"}`), &v))
	assert.Equal(t, TaskFinished, v.Status)
	assert.True(t, v.Status.IsDone())

	assert.NoError(t, json.Unmarshal([]byte(`{"status":"PROCESSING"}`), &v))
	assert.False(t, v.Status.IsDone())

	assert.Error(t, json.Unmarshal([]byte(`{"status":"lost"}`), &v))
}

func TestStringers(t *testing.T) {
	assert.Equal(t, "Final", Final.String())
	assert.Equal(t, "ItemState(9)", ItemState(9).String())
	assert.Equal(t, "timeout", Timeout.String())
	assert.Equal(t, "SolvedWithSomeBudgetExhausted", SolvedWithSomeBudgetExhausted.String())
}
