// Package util contains test fixtures shared across package tests.
package util

import (
	"encoding/json"
	"testing"
)

// VideoManifestRaw is a small, fully valid adapter manifest used as the
// standard fixture: one GET action in query mode with a query-placed API key.
func VideoManifestRaw(t *testing.T) json.RawMessage {
	return videoManifest(t, nil)
}

// VideoManifestWith returns the fixture manifest with top-level overrides
// applied before re-encoding.
func VideoManifestWith(t *testing.T, overrides map[string]interface{}) json.RawMessage {
	return videoManifest(t, overrides)
}

func videoManifest(t *testing.T, overrides map[string]interface{}) json.RawMessage {
	doc := map[string]interface{}{
		"id":              "youtube",
		"revision":        1,
		"baseUrl":         "https://youtube.googleapis.com",
		"allowedHosts":    []string{"youtube.googleapis.com"},
		"requiredSecrets": []string{"YOUTUBE_API_KEY"},
		"actions": map[string]interface{}{
			"list_channel_videos": map[string]interface{}{
				"method":      "GET",
				"path":        "/youtube/v3/search",
				"requestMode": "query",
				"auth": map[string]interface{}{
					"placement":     "query",
					"name":          "key",
					"secretBinding": "YOUTUBE_API_KEY",
				},
				"limits": map[string]interface{}{
					"maxBodyKb":     8,
					"timeoutMs":     10000,
					"ratePerMinute": 90,
				},
				"inputSchema": map[string]interface{}{
					"type":                 "object",
					"required":             []string{"channelId"},
					"additionalProperties": false,
					"properties": map[string]interface{}{
						"channelId":  map[string]interface{}{"type": "string", "minLength": 1, "maxLength": 128},
						"maxResults": map[string]interface{}{"type": "integer", "minimum": 1, "maximum": 50},
					},
				},
			},
		},
	}
	for k, v := range overrides {
		doc[k] = v
	}
	enc, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("could not encode fixture manifest: %v", err)
	}
	return enc
}
