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

package pg_listener

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type mockHandler struct {
	mock.Mock
}

func (m *mockHandler) HandleNotification(ctx context.Context, table string, data map[string]interface{}) error {
	args := m.Called(ctx, table, data)
	return args.Error(0)
}

func TestDispatch(t *testing.T) {
	handler := &mockHandler{}
	listener := NewDBListener(ListenerConfig{Channel: "lead_contact"}, handler)

	expected := map[string]interface{}{"event_id": "cev_1", "lead_id": "led_1", "partner_id": "p1"}
	handler.On("HandleNotification", mock.Anything, "contact_events", expected).Return(nil).Once()

	err := listener.dispatch(context.Background(), `{"table":"contact_events","data":{"event_id":"cev_1","lead_id":"led_1","partner_id":"p1"}}`)
	assert.NoError(t, err)
	handler.AssertExpectations(t)
}

func TestDispatchHandlerError(t *testing.T) {
	handler := &mockHandler{}
	listener := NewDBListener(ListenerConfig{Channel: "lead_contact"}, handler)
	handler.On("HandleNotification", mock.Anything, "contact_events", mock.Anything).Return(errors.New("boom"))

	err := listener.dispatch(context.Background(), `{"table":"contact_events","data":{"lead_id":"led_1"}}`)
	assert.EqualError(t, err, "boom")
}

func TestDispatchRejectsMalformedPayload(t *testing.T) {
	handler := &mockHandler{}
	listener := NewDBListener(ListenerConfig{Channel: "lead_contact"}, handler)

	assert.Error(t, listener.dispatch(context.Background(), `not json`))
	assert.Error(t, listener.dispatch(context.Background(), `{"table":"contact_events"}`))
	handler.AssertNotCalled(t, "HandleNotification", mock.Anything, mock.Anything, mock.Anything)
}

func TestNewDBListenerDefaults(t *testing.T) {
	listener := NewDBListener(ListenerConfig{Channel: "lead_contact"}, &mockHandler{})
	assert.NotZero(t, listener.config.MinReconnect)
	assert.NotZero(t, listener.config.MaxReconnect)
	assert.NotZero(t, listener.config.PingInterval)
}
