package room

import "errors"

var (
	// ErrForbidden 권한 부족. 상태 변경 없이 호출자에게만 보고된다.
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound 방 또는 대상이 존재하지 않거나 만료됨
	ErrNotFound = errors.New("not found")
	// ErrRoomClosed 종료된 방에 대한 연산
	ErrRoomClosed = errors.New("room closed")
	// ErrRoomFull 플레이어 정원 초과
	ErrRoomFull = errors.New("room is full")
)
