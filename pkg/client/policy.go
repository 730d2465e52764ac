package client

import (
	"encoding/json"
	"fmt"
)

// graphErrorBody is the error shape Graph returns on failures.
type graphErrorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Classify reports whether resp is an error and, if so, the message to surface.
// Statuses below 400 are never errors. The API's error.message is appended
// when the body carries one; unparsable bodies keep the short form.
func Classify(resp *Response) (bool, string) {
	if resp.StatusCode < 400 {
		return false, ""
	}
	msg := fmt.Sprintf("Error %d while accessing %s", resp.StatusCode, resp.URL)
	if detail := errorDetail(resp.Body); detail != "" {
		msg += ". " + detail
	}
	return true, msg
}

func errorDetail(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	var parsed graphErrorBody
	if err := json.Unmarshal(body, &parsed); err != nil {
		return ""
	}
	return parsed.Error.Message
}

// applyPolicy turns a failing response into a *GraphError according to spec.
// A RaiseOn entry for the status always raises with its message; otherwise
// CannotRaise hands the response back untouched.
func applyPolicy(spec RequestSpec, resp *Response) error {
	isErr, msg := Classify(resp)
	if !isErr {
		return nil
	}
	override, hasOverride := spec.RaiseOn[resp.StatusCode]
	if !hasOverride && spec.CannotRaise {
		return nil
	}
	if hasOverride {
		msg = override
	}
	class := classifyStatus(resp.StatusCode)
	graphErrorsTotal.WithLabelValues(string(class)).Inc()
	return &GraphError{
		StatusCode: resp.StatusCode,
		Class:      class,
		Method:     spec.Method,
		URL:        resp.URL,
		Message:    msg,
		Body:       resp.Body,
	}
}
