package gotrue

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gcsewala/authbridge/internal/ioutil"
	"github.com/gcsewala/authbridge/internal/upstream"
)

// errorBody covers the error shapes GoTrue has used across versions.
type errorBody struct {
	Code             any    `json:"code"`
	ErrorCode        string `json:"error_code"`
	Msg              string `json:"msg"`
	Message          string `json:"message"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func decodeError(resp *http.Response) *upstream.AuthError {
	raw := ioutil.ReadLimited(resp.Body, 4096)
	authErr := &upstream.AuthError{Status: resp.StatusCode}

	var body errorBody
	if err := json.Unmarshal([]byte(raw), &body); err != nil {
		authErr.Message = strings.TrimSpace(raw)
		if authErr.Message == "" {
			authErr.Message = http.StatusText(resp.StatusCode)
		}
		return authErr
	}

	authErr.Code = firstNonEmpty(body.ErrorCode, body.Error)
	if s, ok := body.Code.(string); ok && authErr.Code == "" {
		authErr.Code = s
	}
	authErr.Message = firstNonEmpty(body.Msg, body.Message, body.ErrorDescription, body.Error, http.StatusText(resp.StatusCode))
	return authErr
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// sessionGone reports rejections that mean the server no longer knows the
// session, which sign-out treats as already signed out.
func sessionGone(err *upstream.AuthError) bool {
	switch err.Status {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return true
	}
	return false
}
