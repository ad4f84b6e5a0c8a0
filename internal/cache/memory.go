package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Memory はプロセス内キャッシュ。
type Memory struct {
	c   *gocache.Cache
	ttl time.Duration
}

// NewMemory はMemoryを生成する。期限切れエントリは1分ごとに掃除する。
func NewMemory(ttl time.Duration) *Memory {
	return &Memory{c: gocache.New(ttl, time.Minute), ttl: ttl}
}

func (m *Memory) Get(_ context.Context, tokenHash string) (string, bool) {
	v, ok := m.c.Get(tokenHash)
	if !ok {
		return "", false
	}
	userID, ok := v.(string)
	return userID, ok
}

// Add はエントリが存在しない場合だけ書き込む。
func (m *Memory) Add(_ context.Context, tokenHash, userID string) bool {
	return m.c.Add(tokenHash, userID, m.ttl) == nil
}

// Invalidate は否定エントリで上書きする。
func (m *Memory) Invalidate(_ context.Context, tokenHash string) {
	m.c.Set(tokenHash, "", m.ttl)
}

var _ TokenCache = (*Memory)(nil)
