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
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/oriphiel-hr/leadflow/config"
	"github.com/stretchr/testify/assert"
)

func newAuthRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(Authenticate())
	ok := func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) }
	router.GET("/", ok)
	router.GET("/leads/:id", ok)
	router.POST("/leads", ok)
	router.POST("/assignments/:id/respond", ok)
	router.GET("/internal", ok)
	return router
}

func TestAuthenticate(t *testing.T) {
	config.MockDefaults(func(c *config.Configuration) {
		c.Server.Secure = true
		c.Server.SecretKey = "master-key"
		c.Server.ApiKeys = map[string][]string{
			"reader-key":  {"leads:read"},
			"partner-key": {"assignments:write", "leads:read"},
			"ops-key":     {"*:*"},
		}
	})
	router := newAuthRouter()

	tests := []struct {
		name   string
		method string
		path   string
		key    string
		want   int
	}{
		{"root needs no key", http.MethodGet, "/", "", http.StatusOK},
		{"missing key", http.MethodGet, "/leads/led_1", "", http.StatusUnauthorized},
		{"unknown key", http.MethodGet, "/leads/led_1", "nope", http.StatusUnauthorized},
		{"master key", http.MethodPost, "/leads", "master-key", http.StatusOK},
		{"read scope reads", http.MethodGet, "/leads/led_1", "reader-key", http.StatusOK},
		{"read scope cannot write", http.MethodPost, "/leads", "reader-key", http.StatusForbidden},
		{"partner responds", http.MethodPost, "/assignments/asg_1/respond", "partner-key", http.StatusOK},
		{"wildcard scope", http.MethodPost, "/leads", "ops-key", http.StatusOK},
		{"unknown resource", http.MethodGet, "/internal", "ops-key", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.key != "" {
				req.Header.Set(KeyHeader, tt.key)
			}
			resp := httptest.NewRecorder()
			router.ServeHTTP(resp, req)
			assert.Equal(t, tt.want, resp.Code)
		})
	}
}

func TestAuthenticateInsecureModePassesEverything(t *testing.T) {
	config.MockDefaults(nil)
	router := newAuthRouter()

	req := httptest.NewRequest(http.MethodPost, "/leads", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	assert.Equal(t, http.StatusOK, resp.Code)
}

func TestHasPermission(t *testing.T) {
	assert.True(t, HasPermission([]string{"leads:*"}, ResourceLeads, http.MethodPost))
	assert.True(t, HasPermission([]string{"*:read"}, ResourceAccounts, http.MethodGet))
	assert.False(t, HasPermission([]string{"*:read"}, ResourceAccounts, http.MethodPost))
	assert.False(t, HasPermission([]string{"leads:*"}, ResourceLeads, http.MethodDelete))
	assert.False(t, HasPermission([]string{"malformed"}, ResourceLeads, http.MethodGet))
	assert.Equal(t, "scores:write", BuildScope(ResourceScores, ActionWrite))
}

func TestRateLimitMiddlewareDisabledWithoutLimits(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RateLimitMiddleware(&config.Configuration{}))
	router.GET("/leads", func(c *gin.Context) { c.Status(http.StatusOK) })

	for i := 0; i < 5; i++ {
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/leads", nil))
		assert.Equal(t, http.StatusOK, resp.Code)
	}
}
