package sweeper

import (
	"time"

	"github.com/Vizaxe/objcache/pkg/object_store"
)

// EffectiveLastAccess is the later of the recorded access time and the
// object's write time. An object that was never read is as old as its
// last write.
func EffectiveLastAccess(lastAccessed, lastModified time.Time) time.Time {
	if lastAccessed.After(lastModified) {
		return lastAccessed
	}
	return lastModified
}

// Expired reports whether an object last accessed at effective has
// been unused for longer than ttl at now.
func Expired(effective time.Time, ttl time.Duration, now time.Time) bool {
	return effective.Add(ttl).Before(now)
}

// expiredKeys returns the keys of objs that expired at now.
// accessed must be parallel to objs.
func expiredKeys(objs []object_store.Object, accessed []time.Time, ttl time.Duration, now time.Time) []string {
	var keys []string
	for i, o := range objs {
		if Expired(EffectiveLastAccess(accessed[i], o.LastModified), ttl, now) {
			keys = append(keys, o.Key)
		}
	}
	return keys
}
