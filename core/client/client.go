// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*
Package client provides easy and fast in-process access to the gardenbase REST api

Instead of marshalling HTTP, the client talks directly to the mux router. The client
is the tool of choice if one request handler needs to call other handlers to fulfill
its task. It is also perfectly suited for unit tests. With NewWithURL it talks to a
remote service instead.
*/
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/relabs-tech/gardenbase/core/access"
)

// Client provides easy access to the REST API.
type Client struct {
	router     *mux.Router
	httpClient *http.Client
	url        string
	token      string
	identity   *access.Identity
	ctx        context.Context

	defaultHeaders map[string]string
}

// NewWithRouter creates a client to make pseudo-REST requests to the backend,
// through the mux router
//
// WithIdentity() adds an already verified identity to the request context.
// WithContext() specifies a different base context all together.
func NewWithRouter(router *mux.Router) Client {
	return Client{
		router:         router,
		defaultHeaders: map[string]string{},
	}
}

// NewWithURL creates a client to make REST requests to the backend
//
// WithToken adds an authorization token to the request header.
func NewWithURL(url string) Client {
	return Client{
		url:            strings.TrimSuffix(url, "/"),
		httpClient:     &http.Client{Timeout: 20 * time.Second},
		defaultHeaders: map[string]string{},
	}
}

// WithHeader returns a new client with a default header added
func (c Client) WithHeader(key string, value string) Client {
	headers := make(map[string]string, len(c.defaultHeaders)+1)
	for k, v := range c.defaultHeaders {
		headers[k] = v
	}
	headers[key] = value
	c.defaultHeaders = headers
	return c
}

// WithToken returns a new client which sends token as bearer
func (c Client) WithToken(token string) Client {
	c.token = token
	return c
}

// WithIdentity returns a new client with a verified identity
// (this works only directly against the mux router, for a normal client
// use WithToken())
func (c Client) WithIdentity(identity *access.Identity) Client {
	c.identity = identity
	return c
}

// WithContext returns a new client with specific request context
func (c Client) WithContext(ctx context.Context) Client {
	c.ctx = ctx
	return c
}

// Context returns the request context of the client
func (c Client) Context() context.Context {
	ctx := c.ctx
	if c.ctx == nil {
		ctx = context.Background()
	}
	if c.identity != nil {
		ctx = access.ContextWithIdentity(ctx, c.identity)
	}
	return ctx
}

// do executes the request and unmarshals the response body into result, also
// for error responses, so that callers can inspect error details. Any status
// outside of 2xx is returned as error.
func (c Client) do(method, path string, body interface{}, result interface{}) (int, error) {
	var reader io.Reader
	if body != nil {
		j, ok := body.([]byte)
		if !ok {
			var err error
			j, err = json.Marshal(body)
			if err != nil {
				return http.StatusBadRequest, fmt.Errorf("%s to %s: %w", method, path, err)
			}
		}
		reader = bytes.NewBuffer(j)
	}

	r, err := http.NewRequestWithContext(c.Context(), method, c.url+path, reader)
	if err != nil {
		return http.StatusBadRequest, err
	}
	for key, value := range c.defaultHeaders {
		r.Header.Add(key, value)
	}
	if body != nil {
		r.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		r.Header.Set("Authorization", "Bearer "+c.token)
	}

	var res *http.Response
	var resBody []byte
	if c.router != nil {
		rec := httptest.NewRecorder()
		c.router.ServeHTTP(rec, r)
		res = rec.Result()
		resBody = rec.Body.Bytes()
	} else {
		res, err = c.httpClient.Do(r)
		if err != nil {
			return http.StatusInternalServerError, err
		}
		defer res.Body.Close()
		resBody, _ = io.ReadAll(res.Body)
	}
	status := res.StatusCode

	if len(resBody) > 0 && result != nil {
		if raw, ok := result.(*[]byte); ok {
			*raw = resBody
		} else if strings.HasPrefix(res.Header.Get("Content-Type"), "application/json") {
			err = json.Unmarshal(resBody, result)
		}
	}
	if status < 200 || status > 299 {
		return status, fmt.Errorf("%s %s returned status %d: %s", method, path, status, strings.TrimSpace(string(resBody)))
	}
	return status, err
}

// RawGet gets the resource from path. The path can be extend with query strings.
// result can be a struct, map[string]interface{} or a raw *[]byte, or nil.
func (c Client) RawGet(path string, result interface{}) (int, error) {
	return c.do(http.MethodGet, path, nil, result)
}

// RawPost posts body to path. body can also be a []byte.
func (c Client) RawPost(path string, body interface{}, result interface{}) (int, error) {
	return c.do(http.MethodPost, path, body, result)
}

// RawPut puts body to path. body can also be a []byte.
func (c Client) RawPut(path string, body interface{}, result interface{}) (int, error) {
	return c.do(http.MethodPut, path, body, result)
}

// RawPatch patches path with body. body can also be a []byte.
func (c Client) RawPatch(path string, body interface{}, result interface{}) (int, error) {
	return c.do(http.MethodPatch, path, body, result)
}

// RawDelete deletes the resource at path
func (c Client) RawDelete(path string, result interface{}) (int, error) {
	return c.do(http.MethodDelete, path, nil, result)
}

// Table represents a table of the data api
type Table struct {
	client Client
	name   string
}

// Table returns the named table
func (c Client) Table(name string) Table {
	return Table{client: c, name: name}
}

// Path returns the collection path of the table
func (t Table) Path() string {
	return "/api/data/" + url.PathEscape(t.name)
}

// Insert creates an entry. result receives the {success, data} response.
func (t Table) Insert(entry interface{}, result interface{}) (int, error) {
	return t.client.RawPost(t.Path(), entry, result)
}

// Query lists rows matching all parameters. The special parameter "limit"
// restricts the number of rows.
func (t Table) Query(parameters map[string]string, result interface{}) (int, error) {
	path := t.Path()
	if len(parameters) > 0 {
		keys := make([]string, 0, len(parameters))
		for key := range parameters {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		values := url.Values{}
		for _, key := range keys {
			values.Add(key, parameters[key])
		}
		path += "?" + values.Encode()
	}
	return t.client.RawGet(path, result)
}

// Get reads the row with primary key id
func (t Table) Get(id string, result interface{}) (int, error) {
	return t.client.RawGet(t.Path()+"/"+url.PathEscape(id), result)
}

// Update partially updates the row identified by the primary key in entry
func (t Table) Update(entry interface{}, result interface{}) (int, error) {
	return t.client.RawPatch(t.Path(), entry, result)
}

// Replace updates the row identified by the primary key in entry. The entry must
// carry all required fields.
func (t Table) Replace(entry interface{}, result interface{}) (int, error) {
	return t.client.RawPut(t.Path(), entry, result)
}

// UpdateMany updates several rows independently
func (t Table) UpdateMany(entries interface{}, result interface{}) (int, error) {
	return t.client.RawPatch(t.Path()+"/batch", entries, result)
}

// Delete deletes the row with primary key id
func (t Table) Delete(id string, result interface{}) (int, error) {
	return t.client.RawDelete(t.Path()+"/"+url.PathEscape(id), result)
}
