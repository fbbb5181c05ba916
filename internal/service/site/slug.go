package site

import (
	"encoding/binary"

	"github.com/google/uuid"
)

// SlugLength 生成的 slug 长度
const SlugLength = 8

const slugAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// NewSlug 返回 8 位随机 base62 标识（约 2.2e14 种取值），唯一性由存储层保证
func NewSlug() string {
	id := uuid.New()
	// 前后两半异或，消除固定的 version/variant 位
	n := binary.BigEndian.Uint64(id[:8]) ^ binary.BigEndian.Uint64(id[8:])

	buf := make([]byte, SlugLength)
	for i := range buf {
		buf[i] = slugAlphabet[n%uint64(len(slugAlphabet))]
		n /= uint64(len(slugAlphabet))
	}
	return string(buf)
}
