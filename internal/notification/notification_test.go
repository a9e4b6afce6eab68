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
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/soonaverse/settle/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const slackURL = "https://hooks.slack.com/services/T000/B000/XXXX"

func TestSlackNotification(t *testing.T) {
	cnf := &config.Configuration{ProjectName: "Settle"}
	cnf.Notification.Slack.WebhookUrl = slackURL
	config.MockConfig(cnf)

	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	var received slackMessage
	httpmock.RegisterResponder("POST", slackURL, func(req *http.Request) (*http.Response, error) {
		body, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(body, &received); err != nil {
			return nil, err
		}
		return httpmock.NewStringResponse(200, ""), nil
	})

	err := SlackNotification(errors.New("order ord_1 exceeded its retries"))
	require.NoError(t, err)
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
	require.Len(t, received.Blocks, 3)
	assert.Equal(t, "Error from Settle", received.Blocks[0].Text.Text)
	assert.Contains(t, received.Blocks[1].Fields[0].Text, "ord_1 exceeded its retries")
}

func TestSlackNotification_NotConfigured(t *testing.T) {
	config.MockConfig(&config.Configuration{})

	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	require.NoError(t, SlackNotification(errors.New("ignored")))
	assert.Equal(t, 0, httpmock.GetTotalCallCount())
}

func TestNotifyError(t *testing.T) {
	cnf := &config.Configuration{ProjectName: "Settle"}
	cnf.Notification.Slack.WebhookUrl = slackURL
	config.MockConfig(cnf)

	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	calls := make(chan struct{}, 1)
	httpmock.RegisterResponder("POST", slackURL, func(req *http.Request) (*http.Response, error) {
		calls <- struct{}{}
		return httpmock.NewStringResponse(200, ""), nil
	})

	NotifyError(errors.New("boom"))

	select {
	case <-calls:
	case <-time.After(2 * time.Second):
		t.Fatal("slack webhook was not called")
	}
}
