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

package notification

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/oriphiel-hr/leadflow/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const slackURL = "https://hooks.slack.test/services/T000/B000/XXX"

func TestBuildSlackMessage(t *testing.T) {
	at := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	msg := buildSlackMessage("Leadflow", "scheduler.expiry", errors.New("db down"), at)

	require.Len(t, msg.Blocks, 3)
	assert.Equal(t, "header", msg.Blocks[0].Type)
	assert.Contains(t, msg.Blocks[0].Text.Text, "Leadflow")
	assert.Contains(t, msg.Blocks[1].Fields[0].Text, "scheduler.expiry")
	assert.Contains(t, msg.Blocks[2].Fields[0].Text, "db down")
}

func TestSlackNotification(t *testing.T) {
	config.MockDefaults(func(c *config.Configuration) {
		c.Notification.Slack.WebhookUrl = slackURL
	})

	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	var body map[string]interface{}
	httpmock.RegisterResponder(http.MethodPost, slackURL, func(req *http.Request) (*http.Response, error) {
		raw, _ := io.ReadAll(req.Body)
		_ = json.Unmarshal(raw, &body)
		return httpmock.NewStringResponse(200, ""), nil
	})

	err := SlackNotification("scheduler.refund", errors.New("ledger unreachable"))
	require.NoError(t, err)
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
	blocks, ok := body["blocks"].([]interface{})
	require.True(t, ok)
	assert.Len(t, blocks, 3)
}

func TestSlackNotificationFailure(t *testing.T) {
	config.MockDefaults(func(c *config.Configuration) {
		c.Notification.Slack.WebhookUrl = slackURL
	})

	httpmock.Activate()
	defer httpmock.DeactivateAndReset()
	httpmock.RegisterResponder(http.MethodPost, slackURL, httpmock.NewStringResponder(404, "no_service"))

	err := SlackNotification("scheduler.refund", errors.New("x"))
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "404"))
}

func TestNotifyErrorWithoutSlack(t *testing.T) {
	config.MockDefaults(nil)

	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	NotifyError("scheduler.expiry", errors.New("ignored"))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, httpmock.GetTotalCallCount())
}
