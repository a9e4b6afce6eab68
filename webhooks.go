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

package settle

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"github.com/soonaverse/settle/config"
	"github.com/soonaverse/settle/internal/request"
)

// NewWebhook is an event delivered to the configured webhook URL.
type NewWebhook struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"data"`
}

// deliverWebhook posts data to the configured URL with the configured headers.
func deliverWebhook(ctx context.Context, conf *config.Configuration, data NewWebhook) error {
	body, err := request.ToJsonReq(data)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, conf.Notification.Webhook.Url, body)
	if err != nil {
		return err
	}
	for key, value := range conf.Notification.Webhook.Headers {
		req.Header.Set(key, value)
	}
	_, err = request.Call(req, nil)
	return err
}

// ProcessWebhook delivers a queued webhook. A failed delivery is returned so
// that asynq retries it.
func ProcessWebhook(ctx context.Context, task *asynq.Task) error {
	conf, err := config.Fetch()
	if err != nil {
		return err
	}
	if conf.Notification.Webhook.Url == "" {
		return nil
	}

	var payload NewWebhook
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode webhook task: %v: %w", err, asynq.SkipRetry)
	}
	logrus.Infof("Processing webhook: %s", payload.Event)
	if err := deliverWebhook(ctx, conf, payload); err != nil {
		logrus.Errorf("webhook %s delivery failed: %v", payload.Event, err)
		return err
	}
	return nil
}
