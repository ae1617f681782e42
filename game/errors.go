package game

import "errors"

var (
	ErrRoomNotFound           = errors.New("room-not-found")
	ErrRoomFull               = errors.New("room-full")
	ErrAlreadyInAnotherRoom   = errors.New("already-in-another-room")
	ErrAlreadyPaused          = errors.New("already-paused")
	ErrNotPaused              = errors.New("not-paused")
	ErrResumeBlocked          = errors.New("resume-blocked-by-disconnect")
	ErrRoomCodeSpaceExhausted = errors.New("room-code-space-exhausted")
	ErrNotAMember             = errors.New("not-a-member")
)
