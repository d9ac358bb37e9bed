package types

import "errors"

var (
	ErrConnection = errors.New("connection error")
	ErrProtocol   = errors.New("protocol error")
	ErrNotFound   = errors.New("not found")
	ErrOutOfRange = errors.New("frame index out of range")
	ErrCodec      = errors.New("codec failure")
	ErrParse      = errors.New("parse error")
)
