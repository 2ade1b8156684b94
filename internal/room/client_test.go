package room

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blockingConn WriteMessage가 release가 닫힐 때까지 멈추는 연결
type blockingConn struct {
	fakeConn
	release chan struct{}
}

func (b *blockingConn) WriteMessage(messageType int, data []byte) error {
	<-b.release
	return b.fakeConn.WriteMessage(messageType, data)
}

func TestClient_DeliversInEnqueueOrder(t *testing.T) {
	conn := &fakeConn{}
	c := NewClient(1, "alice", conn)
	defer c.Close()

	const n = 200
	for i := 0; i < n; i++ {
		data, err := Encode(fmt.Sprintf("ev-%d", i), nil)
		require.NoError(t, err)
		require.NoError(t, c.Send(data))
	}

	require.Eventually(t, func() bool {
		return len(conn.received()) == n
	}, 2*time.Second, 10*time.Millisecond)

	for i, eventType := range conn.received() {
		assert.Equal(t, fmt.Sprintf("ev-%d", i), eventType)
	}
}

func TestClient_SlowConsumerDisconnected(t *testing.T) {
	conn := &blockingConn{release: make(chan struct{})}
	c := NewClient(1, "alice", conn)

	// 쓰기가 막힌 채로 큐 용량을 넘기면 Send가 실패하며 연결이 정리된다
	var sendErr error
	for i := 0; i < sendQueueSize+2; i++ {
		if sendErr = c.Send([]byte(`{}`)); sendErr != nil {
			break
		}
	}
	require.Error(t, sendErr)

	close(conn.release)
	assert.Eventually(t, conn.isClosed, time.Second, 10*time.Millisecond)
}
