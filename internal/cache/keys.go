package cache

import "fmt"

const KeyPrefix = "transvisor:"

// KeyFeatures is the cache key for the decoded feature collection of a source.
func KeyFeatures(sourceID string) string {
	return fmt.Sprintf("features:%s", sourceID)
}
