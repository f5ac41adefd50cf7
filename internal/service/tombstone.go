package service

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/bigkaa/flashdrop/internal/domain/lifecycle"
)

// TombstoneService — память о недавно удалённых slug.
// Обёртка над hashicorp/golang-lru/v2/expirable.
//
// Используется только для выбора между 410 и 404 после того, как запись
// исчезла. На решение о выдаче контента не влияет: каждое обращение
// перечитывает PostgreSQL.
type TombstoneService struct {
	cache *expirable.LRU[string, lifecycle.Action]
}

// NewTombstoneService создаёт набор надгробий размера maxSize с TTL.
func NewTombstoneService(maxSize int, ttl time.Duration) *TombstoneService {
	return &TombstoneService{
		cache: expirable.NewLRU[string, lifecycle.Action](maxSize, nil, ttl),
	}
}

// Remember запоминает причину удаления slug.
func (t *TombstoneService) Remember(slug string, reason lifecycle.Action) {
	if t == nil {
		return
	}
	t.cache.Add(slug, reason)
}

// Lookup возвращает причину удаления, если slug удалялся недавно.
func (t *TombstoneService) Lookup(slug string) (lifecycle.Action, bool) {
	if t == nil {
		return lifecycle.ActionNotFound, false
	}
	reason, ok := t.cache.Get(slug)
	if ok {
		tombstoneHitsTotal.Inc()
		return reason, true
	}
	tombstoneMissesTotal.Inc()
	return lifecycle.ActionNotFound, false
}

// Forget снимает надгробие (slug занят новой загрузкой).
func (t *TombstoneService) Forget(slug string) {
	if t == nil {
		return
	}
	t.cache.Remove(slug)
}

// Len возвращает количество надгробий.
func (t *TombstoneService) Len() int {
	if t == nil {
		return 0
	}
	return t.cache.Len()
}
