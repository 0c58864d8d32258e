// Package client talks to the REST gateway of a poe node.
package client

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/spacemeshos/poe/events"
	"github.com/spacemeshos/poe/node"
	"github.com/spacemeshos/poe/registry"
	"github.com/spacemeshos/poe/rpc"
	"github.com/spacemeshos/poe/signing"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrUnavailable    = errors.New("unavailable")
	ErrInvalidRequest = errors.New("invalid request")
	ErrConflict       = errors.New("conflict")
	ErrForbidden      = errors.New("forbidden")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrBadNonce       = errors.New("bad nonce")
)

// HTTPClient is a client of the poe REST API. Queries are retried on
// transport errors and 5xx responses, submissions are sent once.
type HTTPClient struct {
	baseURL *url.URL
	client  *retryablehttp.Client
	once    *retryablehttp.Client
}

type newClientOptions struct {
	retries int
	client  *http.Client
}

type OptionFunc func(*newClientOptions)

func WithRetries(retries int) OptionFunc {
	return func(opts *newClientOptions) {
		opts.retries = retries
	}
}

// WithHTTPClient sets the underlying transport client.
func WithHTTPClient(client *http.Client) OptionFunc {
	return func(opts *newClientOptions) {
		opts.client = client
	}
}

// NewHTTPClient returns new instance of HTTPClient connecting to the specified url.
func NewHTTPClient(baseUrl string, opts ...OptionFunc) (*HTTPClient, error) {
	options := newClientOptions{retries: 4}
	for _, opt := range opts {
		opt(&options)
	}
	baseURL, err := url.Parse(baseUrl)
	if err != nil {
		return nil, fmt.Errorf("parsing address: %w", err)
	}
	if baseURL.Scheme == "" {
		baseURL.Scheme = "http"
	}

	client := retryablehttp.NewClient()
	client.RetryMax = options.retries
	client.Logger = nil
	if options.client != nil {
		client.HTTPClient = options.client
	}
	once := retryablehttp.NewClient()
	once.RetryMax = 0
	once.Logger = nil
	once.HTTPClient = client.HTTPClient
	return &HTTPClient{baseURL: baseURL, client: client, once: once}, nil
}

func (c *HTTPClient) Info(ctx context.Context) (*rpc.InfoResponse, error) {
	resBody := rpc.InfoResponse{}
	if err := c.req(ctx, http.MethodGet, "/v1/info", nil, nil, &resBody); err != nil {
		return nil, fmt.Errorf("getting info: %w", err)
	}
	return &resBody, nil
}

func (c *HTTPClient) Nonce(ctx context.Context, id registry.Identity) (uint64, error) {
	resBody := rpc.GetNonceResponse{}
	if err := c.req(ctx, http.MethodGet, "/v1/nonces/"+id.String(), nil, nil, &resBody); err != nil {
		return 0, fmt.Errorf("getting nonce: %w", err)
	}
	return resBody.Nonce, nil
}

func (c *HTTPClient) Claim(ctx context.Context, fingerprint registry.Fingerprint) (*rpc.GetClaimResponse, error) {
	resBody := rpc.GetClaimResponse{}
	if err := c.req(ctx, http.MethodGet, "/v1/claims/"+fingerprint.String(), nil, nil, &resBody); err != nil {
		return nil, fmt.Errorf("getting claim: %w", err)
	}
	return &resBody, nil
}

func (c *HTTPClient) Events(ctx context.Context, from registry.BlockNumber, limit int) ([]events.Record, error) {
	query := url.Values{}
	query.Set("from", strconv.FormatUint(uint64(from), 10))
	query.Set("limit", strconv.Itoa(limit))
	resBody := rpc.ListEventsResponse{}
	if err := c.req(ctx, http.MethodGet, "/v1/events", query, nil, &resBody); err != nil {
		return nil, fmt.Errorf("listing events: %w", err)
	}
	return resBody.Records, nil
}

// Submit signs tx with key and submits it.
func (c *HTTPClient) Submit(ctx context.Context, key ed25519.PrivateKey, tx node.Tx) (*node.Receipt, error) {
	signed, err := signing.Sign(tx, key)
	if err != nil {
		return nil, err
	}
	request := rpc.SubmitRequest{Tx: tx, PubKey: signed.PubKey(), Signature: signed.Signature()}
	resBody := rpc.SubmitResponse{}
	if err := c.req(ctx, http.MethodPost, "/v1/submit", nil, &request, &resBody); err != nil {
		return nil, fmt.Errorf("submitting %s: %w", tx.Call, err)
	}
	return resBody.Receipt, nil
}

// Send fetches the signer's nonce and submits the call.
func (c *HTTPClient) Send(
	ctx context.Context,
	key ed25519.PrivateKey,
	call node.Call,
	fingerprint registry.Fingerprint,
	receiver registry.Identity,
) (*node.Receipt, error) {
	nonce, err := c.Nonce(ctx, registry.Identity(key.Public().(ed25519.PublicKey)))
	if err != nil {
		return nil, err
	}
	return c.Submit(ctx, key, node.Tx{
		Call:        call,
		Fingerprint: fingerprint,
		Receiver:    receiver,
		Nonce:       nonce,
	})
}

func (c *HTTPClient) req(ctx context.Context, method, path string, query url.Values, reqBody, resBody any) error {
	var body io.Reader
	if reqBody != nil {
		data, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	target := c.baseURL.JoinPath(path)
	target.RawQuery = query.Encode()
	req, err := retryablehttp.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return fmt.Errorf("creating HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := c.client
	if method != http.MethodGet {
		client = c.once
	}
	res, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("doing request: %w", err)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return fmt.Errorf("reading response body (%w)", err)
	}

	if res.StatusCode != http.StatusOK {
		var restErr struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(data, &restErr) != nil || restErr.Message == "" {
			restErr.Message = string(data)
		}
		return fmt.Errorf("%w: %s", statusError(res.StatusCode), restErr.Message)
	}

	if resBody != nil {
		if err := json.Unmarshal(data, resBody); err != nil {
			return fmt.Errorf("decoding response body: %w", err)
		}
	}
	return nil
}

func statusError(code int) error {
	switch code {
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusServiceUnavailable:
		return ErrUnavailable
	case http.StatusBadRequest:
		return ErrInvalidRequest
	case http.StatusConflict:
		return ErrConflict
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusPreconditionFailed:
		return ErrBadNonce
	default:
		return fmt.Errorf("unrecognized status code %d", code)
	}
}
