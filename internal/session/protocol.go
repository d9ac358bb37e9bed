package session

import (
	"encoding/binary"
	"fmt"
)

// Opcodes are sent as little-endian int32.
const (
	OpClose int32 = -1
	OpList  int32 = 1
	OpFetch int32 = 2
)

const transferChunk = 4096

// responseKind is the reply a sent command is waiting for.
type responseKind int32

const (
	responseNone responseKind = iota
	responseList
	responseArchive
)

func (k responseKind) String() string {
	switch k {
	case responseList:
		return "capture_list"
	case responseArchive:
		return "archive"
	default:
		return "none"
	}
}

// EncodeCommand builds the bytes of one client command. The filename is only
// sent with OpFetch and carries no length prefix.
func EncodeCommand(op int32, name string) []byte {
	n := 4
	if op == OpFetch {
		n += len(name)
	}
	buf := make([]byte, 4, n)
	binary.LittleEndian.PutUint32(buf, uint32(op))
	if op == OpFetch {
		buf = append(buf, name...)
	}
	return buf
}

func opName(op int32) string {
	switch op {
	case OpClose:
		return "close"
	case OpList:
		return "list"
	case OpFetch:
		return "fetch"
	default:
		return fmt.Sprintf("op(%d)", op)
	}
}
