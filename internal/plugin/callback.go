package plugin

import (
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
)

// maxCallbackBody caps how much of a notification body is read.
const maxCallbackBody = 1 << 20

// Callback is a transport-neutral snapshot of a provider notification.
type Callback struct {
	Method string
	Query  url.Values
	Form   url.Values
	Header http.Header
	Body   []byte
}

func NewCallback(r *http.Request) (Callback, error) {
	cb := Callback{
		Method: r.Method,
		Query:  r.URL.Query(),
		Header: r.Header.Clone(),
	}
	if r.Body == nil {
		return cb, nil
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBody))
	if err != nil {
		return cb, err
	}
	cb.Body = body
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/x-www-form-urlencoded" {
		form, err := url.ParseQuery(string(body))
		if err == nil {
			cb.Form = form
		}
	}
	return cb, nil
}

// IsWebhook reports a server-to-server notification rather than a customer redirect.
func (c Callback) IsWebhook() bool {
	return strings.EqualFold(c.Method, http.MethodPost) && len(c.Body) > 0
}

// Param looks up key in the query string, then in a form body.
func (c Callback) Param(key string) string {
	if v := c.Query.Get(key); v != "" {
		return v
	}
	return c.Form.Get(key)
}

// Params merges query and form values, query first.
func (c Callback) Params() url.Values {
	out := url.Values{}
	for k, v := range c.Form {
		out[k] = append([]string(nil), v...)
	}
	for k, v := range c.Query {
		out[k] = append([]string(nil), v...)
	}
	return out
}

func (c Callback) JSON(dst any) error {
	return json.Unmarshal(c.Body, dst)
}
