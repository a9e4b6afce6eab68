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

package ledger

import (
	"context"

	"github.com/soonaverse/settle/model"
	"github.com/stretchr/testify/mock"
)

// MockClient is a testify mock of Client.
type MockClient struct {
	mock.Mock
}

func (m *MockClient) NewSpendableAddress(ctx context.Context, network model.Network) (SpendableAddress, error) {
	args := m.Called(ctx, network)
	return args.Get(0).(SpendableAddress), args.Error(1)
}

func (m *MockClient) Send(ctx context.Context, from, to string, amount int64, opts SendOptions) (string, error) {
	args := m.Called(ctx, from, to, amount, opts)
	return args.String(0), args.Error(1)
}

func (m *MockClient) GetBalance(ctx context.Context, address string) (int64, error) {
	args := m.Called(ctx, address)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockClient) GetSpendUnits(ctx context.Context, address string) (model.SpendUnits, error) {
	args := m.Called(ctx, address)
	return args.Get(0).(model.SpendUnits), args.Error(1)
}
