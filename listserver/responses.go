package listserver

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// ContentTypeVerbose is the Content-Type of every JSON response from /_api.
const ContentTypeVerbose = "application/json;odata=verbose;charset=utf-8"

// errorResponse is the body of an /_api error.
type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string       `json:"code"`
	Message errorMessage `json:"message"`
}

type errorMessage struct {
	Lang  string `json:"lang"`
	Value string `json:"value"`
}

// oauthErrorResponse is the body of a token endpoint error.
type oauthErrorResponse struct {
	Error       string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

// result is the outcome of an endpoint. It is written to the client by
// writeResponse and then logged; internalMsg only ever goes to the log.
type result struct {
	status      int
	isErr       bool
	internalMsg string

	// resp is marshaled as JSON. If nil, no body is written.
	resp interface{}

	contentType string
	hdrs        [][2]string
}

func (r result) withHeader(name, val string) result {
	cp := r
	cp.hdrs = append(append([][2]string{}, r.hdrs...), [2]string{name, val})
	return cp
}

func (r result) writeResponse(w http.ResponseWriter) {
	// if this hasn't been properly created, panic
	if r.status == 0 {
		panic("result not populated")
	}

	var body []byte
	if r.resp != nil && r.status != http.StatusNoContent {
		var err error
		body, err = json.Marshal(r.resp)
		if err != nil {
			panic(fmt.Sprintf("could not marshal response: %s", err.Error()))
		}

		ct := r.contentType
		if ct == "" {
			ct = ContentTypeVerbose
		}
		w.Header().Set("Content-Type", ct)
		w.Header().Set("X-Content-Type-Options", "nosniff")
	}

	for i := range r.hdrs {
		w.Header().Set(r.hdrs[i][0], r.hdrs[i][1])
	}

	w.WriteHeader(r.status)

	if body != nil {
		w.Write(body)
	}
}

func response(status int, respObj interface{}, internalMsg string, v ...interface{}) result {
	return result{
		status:      status,
		internalMsg: fmt.Sprintf(internalMsg, v...),
		resp:        respObj,
	}
}

// entity wraps obj in the verbose "d" envelope.
func entity(obj interface{}) interface{} {
	return map[string]interface{}{"d": obj}
}

// collection wraps objs in the verbose "d.results" envelope.
func collection(objs interface{}) interface{} {
	return map[string]interface{}{"d": map[string]interface{}{"results": objs}}
}

func ok(respObj interface{}, internalMsg string, v ...interface{}) result {
	return response(http.StatusOK, respObj, internalMsg, v...)
}

func created(respObj interface{}, internalMsg string, v ...interface{}) result {
	return response(http.StatusCreated, respObj, internalMsg, v...)
}

func noContent(internalMsg string, v ...interface{}) result {
	return response(http.StatusNoContent, nil, internalMsg, v...)
}

// apiErr builds an error result with the verbose error body. userMsg is sent
// to the client.
func apiErr(status int, code, userMsg, internalMsg string, v ...interface{}) result {
	r := response(status, errorResponse{
		Error: errorBody{
			Code:    code,
			Message: errorMessage{Lang: "en-US", Value: userMsg},
		},
	}, internalMsg, v...)
	r.isErr = true
	return r
}

func badRequest(userMsg string, internalMsg string, v ...interface{}) result {
	return apiErr(http.StatusBadRequest, "InvalidRequest", userMsg, internalMsg, v...)
}

func notFound(userMsg string, internalMsg string, v ...interface{}) result {
	return apiErr(http.StatusNotFound, "NotFound", userMsg, internalMsg, v...)
}

func conflict(userMsg string, internalMsg string, v ...interface{}) result {
	return apiErr(http.StatusConflict, "Conflict", userMsg, internalMsg, v...)
}

func preconditionFailed(internalMsg string, v ...interface{}) result {
	return apiErr(http.StatusPreconditionFailed, "PreconditionFailed", "The version of the item does not match If-Match", internalMsg, v...)
}

func methodNotAllowed(method string, allowed string) result {
	return apiErr(http.StatusMethodNotAllowed, "MethodNotAllowed", "Method "+method+" is not allowed on this resource", "method not allowed").
		withHeader("Allow", allowed)
}

func unauthorized(internalMsg string, v ...interface{}) result {
	return apiErr(http.StatusUnauthorized, "Unauthorized", "Access denied. A valid bearer token is required", internalMsg, v...).
		withHeader("WWW-Authenticate", `Bearer realm="jplistserver"`)
}

func internalServerError(internalMsg string, v ...interface{}) result {
	return apiErr(http.StatusInternalServerError, "InternalError", "An internal server error occurred", internalMsg, v...)
}

// oauthErr builds a token endpoint error.
func oauthErr(status int, code, desc string, internalMsg string, v ...interface{}) result {
	r := response(status, oauthErrorResponse{Error: code, Description: desc}, internalMsg, v...)
	r.isErr = true
	r.contentType = "application/json"
	return r
}
