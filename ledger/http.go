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
	"fmt"
	"net/http"
	"net/url"

	"github.com/pkg/errors"
	"github.com/soonaverse/settle/config"
	"github.com/soonaverse/settle/internal/request"
	"github.com/soonaverse/settle/model"
)

// ApiKeyHeader authenticates calls to the ledger gateway.
const ApiKeyHeader = "X-Api-Key"

// Gateway is a Client backed by a ledger gateway speaking JSON over HTTP.
// The gateway holds the node connections and signs with the secrets it issues.
type Gateway struct {
	baseURL string
	apiKey  string
}

func NewGateway(conf config.LedgerConfig) (*Gateway, error) {
	if conf.Url == "" {
		return nil, errors.New("ledger gateway url is required")
	}
	if _, err := url.ParseRequestURI(conf.Url); err != nil {
		return nil, errors.Wrap(err, "invalid ledger gateway url")
	}
	return &Gateway{baseURL: conf.Url, apiKey: conf.ApiKey}, nil
}

type addressResponse struct {
	Address string `json:"address"`
	Secret  string `json:"secret"`
}

type transferRequest struct {
	From     string                 `json:"from"`
	To       string                 `json:"to"`
	Amount   int64                  `json:"amount"`
	Units    model.SpendUnits       `json:"units"`
	Nft      string                 `json:"nft,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

type transferResponse struct {
	ChainReference string `json:"chain_reference"`
}

type balanceResponse struct {
	Balance int64 `json:"balance"`
}

type unitsResponse struct {
	Units model.SpendUnits `json:"units"`
}

func (g *Gateway) NewSpendableAddress(ctx context.Context, network model.Network) (SpendableAddress, error) {
	var resp addressResponse
	if err := g.do(ctx, http.MethodPost, "/addresses", map[string]string{"network": string(network)}, &resp); err != nil {
		return SpendableAddress{}, errors.Wrap(err, "generating address")
	}
	if resp.Address == "" {
		return SpendableAddress{}, errors.New("ledger gateway returned an empty address")
	}
	return SpendableAddress{Address: resp.Address, Secret: resp.Secret}, nil
}

func (g *Gateway) Send(ctx context.Context, from, to string, amount int64, opts SendOptions) (string, error) {
	var resp transferResponse
	body := transferRequest{From: from, To: to, Amount: amount, Units: opts.Units, Nft: opts.Nft, Metadata: opts.Metadata}
	if err := g.do(ctx, http.MethodPost, "/transfers", body, &resp); err != nil {
		return "", errors.Wrapf(err, "sending %d from %s", amount, from)
	}
	if resp.ChainReference == "" {
		return "", errors.New("ledger gateway returned no chain reference")
	}
	return resp.ChainReference, nil
}

func (g *Gateway) GetBalance(ctx context.Context, address string) (int64, error) {
	var resp balanceResponse
	if err := g.do(ctx, http.MethodGet, fmt.Sprintf("/addresses/%s/balance", url.PathEscape(address)), nil, &resp); err != nil {
		return 0, errors.Wrapf(err, "balance of %s", address)
	}
	return resp.Balance, nil
}

func (g *Gateway) GetSpendUnits(ctx context.Context, address string) (model.SpendUnits, error) {
	var resp unitsResponse
	if err := g.do(ctx, http.MethodGet, fmt.Sprintf("/addresses/%s/units", url.PathEscape(address)), nil, &resp); err != nil {
		return model.SpendUnits{}, errors.Wrapf(err, "spend units of %s", address)
	}
	return resp.Units, nil
}

func (g *Gateway) do(ctx context.Context, method, path string, payload, response interface{}) error {
	var req *http.Request
	var err error
	if payload != nil {
		body, err := request.ToJsonReq(payload)
		if err != nil {
			return err
		}
		req, err = http.NewRequestWithContext(ctx, method, g.baseURL+path, body)
		if err != nil {
			return err
		}
	} else {
		req, err = http.NewRequestWithContext(ctx, method, g.baseURL+path, nil)
		if err != nil {
			return err
		}
	}
	if g.apiKey != "" {
		req.Header.Set(ApiKeyHeader, g.apiKey)
	}
	_, err = request.Call(req, response)
	return err
}
