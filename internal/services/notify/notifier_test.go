package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	mu   sync.Mutex
	sent []Type
	err  error
}

func (r *recordingNotifier) Notify(_ context.Context, _ uuid.UUID, typ Type, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, typ)
	return r.err
}

func TestBestEffortDelivers(t *testing.T) {
	logger, _ := test.NewNullLogger()
	next := &recordingNotifier{}
	n := NewBestEffort(next, logger, time.Second)

	n.Send(context.Background(), uuid.New(), TypePayoutApproved, "approved")
	n.Wait()

	assert.Equal(t, []Type{TypePayoutApproved}, next.sent)
}

func TestBestEffortLogsFailures(t *testing.T) {
	logger, hook := test.NewNullLogger()
	next := &recordingNotifier{err: errors.New("redis down")}
	n := NewBestEffort(next, logger, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	n.Send(ctx, uuid.New(), TypePayoutPaid, "paid")
	cancel()
	n.Wait()

	require.Len(t, hook.AllEntries(), 1)
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	assert.Equal(t, "notification failed", hook.LastEntry().Message)
}

func TestEncodeMessage(t *testing.T) {
	user := uuid.New()
	payload, err := encode(Message{ID: uuid.New(), UserID: user, Type: TypePayoutRejected, Message: "rejected"})
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(payload, &decoded))
	assert.Equal(t, user.String(), decoded["user_id"])
	assert.Equal(t, "payout_rejected", decoded["type"])
}
