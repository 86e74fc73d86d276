package cache

import "fmt"

// PreviewKey addresses a stage-1 result by blueprint content and model version.
func PreviewKey(contentHash, modelVersion string) string {
	return fmt.Sprintf("preview:%s:%s", contentHash, modelVersion)
}

func RateLimitKey(client string) string {
	return fmt.Sprintf("ratelimit:%s", client)
}
