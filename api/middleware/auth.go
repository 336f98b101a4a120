/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/oriphiel-hr/leadflow/config"
)

const (
	KeyHeader = "X-Leadflow-Key"
)

// pathToResource maps the first URL segment to the resource it protects.
var pathToResource = map[string]Resource{
	"leads":       ResourceLeads,
	"assignments": ResourceAssignments,
	"accounts":    ResourceAccounts,
	"partners":    ResourcePartners,
	"refunds":     ResourceRefunds,
	"scores":      ResourceScores,
	"scheduler":   ResourceScheduler,
	"search":      ResourceSearch,
	"webhooks":    ResourceWebhooks,
}

// getResourceFromPath determines the resource type from the URL path.
func getResourceFromPath(path string) Resource {
	parts := strings.Split(strings.TrimPrefix(path, "/"), "/")
	if len(parts) == 0 {
		return ""
	}
	return pathToResource[parts[0]]
}

// Authenticate checks the X-Leadflow-Key header against the master key and the scoped keys
// from the server configuration. When secure mode is off every request passes.
//
// Responses:
// - 401 Unauthorized: When the key is missing or unknown.
// - 403 Forbidden: When a scoped key lacks permission for the route.
func Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/" {
			c.Next()
			return
		}

		conf, err := config.Fetch()
		if err == nil && !conf.Server.Secure {
			c.Next()
			return
		}

		key := c.GetHeader(KeyHeader)
		if key == "" {
			c.AbortWithStatusJSON(401, gin.H{"error": "Authentication required. Use X-Leadflow-Key header"})
			return
		}
		if err != nil {
			c.AbortWithStatusJSON(500, gin.H{"error": "Secret key is not configured"})
			return
		}

		if conf.Server.SecretKey != "" && secureCompare(conf.Server.SecretKey, key) {
			c.Set("isMasterKey", true)
			c.Next()
			return
		}

		scopes, ok := lookupKey(conf.Server.ApiKeys, key)
		if !ok {
			c.AbortWithStatusJSON(401, gin.H{"error": "Invalid API key"})
			return
		}

		resource := getResourceFromPath(c.Request.URL.Path)
		if resource == "" {
			c.AbortWithStatusJSON(403, gin.H{"error": "Unknown resource type"})
			return
		}
		if !HasPermission(scopes, resource, c.Request.Method) {
			action := methodToAction[c.Request.Method]
			c.AbortWithStatusJSON(403, gin.H{"error": "Insufficient permissions for " + BuildScope(resource, action)})
			return
		}

		c.Set("scopes", scopes)
		c.Next()
	}
}

func lookupKey(keys map[string][]string, key string) ([]string, bool) {
	for candidate, scopes := range keys {
		if secureCompare(candidate, key) {
			return scopes, true
		}
	}
	return nil, false
}
