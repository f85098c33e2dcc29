package main

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"schoolattendance/internal/queue"
)

type countingTrigger struct{ n atomic.Int32 }

func (c *countingTrigger) Trigger(context.Context) { c.n.Add(1) }

func TestConsumeRunsSweepRequests(t *testing.T) {
	messages := make(chan queue.Message, 4)
	sweepMsg, err := queue.NewSweepMessage(queue.SweepRequest{RequestedBy: "admin", RequestedAt: time.Now()})
	require.NoError(t, err)

	messages <- sweepMsg
	messages <- queue.Message{Type: "checkin", Body: []byte(`"S1"`)}
	messages <- queue.Message{Type: queue.TypeSweep, Body: []byte(`not json`)}
	messages <- sweepMsg
	close(messages)

	tr := &countingTrigger{}
	consume(context.Background(), messages, tr, zap.NewNop())
	assert.Equal(t, int32(2), tr.n.Load())
}
