package room

import (
	"errors"
	"sync"

	"github.com/gofiber/contrib/websocket"
)

// Conn 클라이언트 연결이 충족해야 하는 최소 표면.
// *websocket.Conn이 그대로 만족하며, 테스트에서는 가짜 연결을 쓴다.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

var errSendQueueFull = errors.New("client send queue full")

// sendQueueSize 연결당 송신 버퍼. 이보다 뒤처진 소비자는 끊는다.
const sendQueueSize = 256

// Client 방에 붙은 한 연결.
// 모든 송신은 단일 쓰기 고루틴이 큐 순서대로 수행하므로
// 코디네이터가 정한 브로드캐스트 순서가 전달 시점에도 유지된다.
type Client struct {
	UserID   int64
	Nickname string

	conn Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

// NewClient 클라이언트 생성 및 쓰기 고루틴 구동
func NewClient(userID int64, nickname string, conn Conn) *Client {
	c := &Client{
		UserID:   userID,
		Nickname: nickname,
		conn:     conn,
		send:     make(chan []byte, sendQueueSize),
		done:     make(chan struct{}),
	}
	go c.writePump()
	return c
}

// writePump 연결당 유일한 작성자. 큐에 들어온 순서 그대로 내보낸다.
func (c *Client) writePump() {
	for {
		select {
		case <-c.done:
			_ = c.conn.Close()
			return
		case data := <-c.send:
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.Close()
				_ = c.conn.Close()
				return
			}
		}
	}
}

// Send 송신 큐 적재 (논블로킹). 큐가 가득 찬 느린 소비자는 연결을 끊는다.
func (c *Client) Send(data []byte) error {
	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return ErrRoomClosed
	default:
		c.Close()
		return errSendQueueFull
	}
}

// Close 쓰기 고루틴을 멈추고 연결을 닫는다 (멱등).
func (c *Client) Close() {
	c.once.Do(func() { close(c.done) })
}
