package util

import (
	"github.com/lithammer/shortuuid/v4"
)

// NewID 生成带前缀的短 ID，例如 "req.xxxx"
func NewID(prefix string) string {
	return prefix + shortuuid.New()
}
