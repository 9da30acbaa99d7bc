package cache

import (
	"net/http"
	"strconv"
)

// CacheManager holds the caches of the registry API. Version records are
// immutable until soft-deleted, so their entries live long and are dropped
// explicitly. Statistics are cleared on every successful write.
//
// Invalidation is local to the process. With several replicas, a version
// soft-deleted through one replica stays readable from the others until the
// entry expires; see CacheConfig.ForReplicas.
type CacheManager struct {
	versions *LRUCache
	stats    *LRUCache
}

// NewCacheManager creates a CacheManager from the given configuration.
// If cfg is nil or disabled, it returns nil; all methods accept a nil receiver.
func NewCacheManager(cfg *CacheConfig) *CacheManager {
	if cfg == nil || !cfg.Enabled {
		return nil
	}
	return &CacheManager{
		versions: NewLRUCache(cfg.MaxSize, cfg.VersionTTL),
		stats:    NewLRUCache(cfg.MaxSize, cfg.StatsTTL),
	}
}

// VersionKey is the cache key of a single version record.
func VersionKey(versionID uint) string {
	return "version:" + strconv.FormatUint(uint64(versionID), 10)
}

// InvalidateVersion drops the cached response for one version.
func (cm *CacheManager) InvalidateVersion(versionID uint) {
	if cm == nil {
		return
	}
	cm.versions.Invalidate(VersionKey(versionID))
}

// InvalidateAll clears every cache.
func (cm *CacheManager) InvalidateAll() {
	if cm == nil {
		return
	}
	cm.versions.InvalidateAll()
	cm.stats.InvalidateAll()
}

// Version returns the cached encoding of a version record.
func (cm *CacheManager) Version(versionID uint) ([]byte, bool) {
	if cm == nil {
		return nil, false
	}
	return cm.versions.Get(VersionKey(versionID))
}

// StoreVersion caches the encoding of a version record.
func (cm *CacheManager) StoreVersion(versionID uint, data []byte) {
	if cm == nil {
		return
	}
	cm.versions.Set(VersionKey(versionID), data)
}

// StatsMiddleware caches statistics reads by request URI.
func (cm *CacheManager) StatsMiddleware() func(http.Handler) http.Handler {
	if cm == nil {
		return passthrough
	}
	return CacheMiddleware(cm.stats, RequestURIKey)
}

// WriteInvalidation clears the statistics cache after successful writes.
func (cm *CacheManager) WriteInvalidation() func(http.Handler) http.Handler {
	if cm == nil {
		return passthrough
	}
	return InvalidateOnWrite(cm.stats)
}

func passthrough(next http.Handler) http.Handler { return next }
