package model

import (
	"sort"
	"strings"
)

// ===== 单聊会话ID =====
//
// 两个参与人排序后拼出来，双方算出的 chatID 一致。

const dmPrefix = "dm:"

func DMKey(a, b string) string {
	p := []string{a, b}
	sort.Strings(p)
	return dmPrefix + p[0] + ":" + p[1]
}

// DMParticipants 还原会话双方；不是 dm 会话返回 false。
func DMParticipants(chatID string) (string, string, bool) {
	if !strings.HasPrefix(chatID, dmPrefix) {
		return "", "", false
	}
	parts := strings.SplitN(chatID[len(dmPrefix):], ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// DMPeer 会话里 userID 的对端。
func DMPeer(chatID, userID string) (string, bool) {
	a, b, ok := DMParticipants(chatID)
	if !ok {
		return "", false
	}
	switch userID {
	case a:
		return b, true
	case b:
		return a, true
	default:
		return "", false
	}
}
