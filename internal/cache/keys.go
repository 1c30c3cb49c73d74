package cache

import "strings"

// KeyStore returns the cache key of a store configuration snapshot.
func KeyStore(storeID string) string {
	return "store:" + strings.TrimSpace(storeID)
}

// KeyZones returns the cache key of a country's zone list.
func KeyZones(countryCode string) string {
	return "zones:" + strings.ToUpper(strings.TrimSpace(countryCode))
}
