package server

import (
	"encoding/json"
	"net/http"
)

// Problem types for RFC 7807 Problem Details responses.
const (
	ProblemTypeNotFound   = "urn:accumulator:problem:not-found"
	ProblemTypeBadRequest = "urn:accumulator:problem:bad-request"
	ProblemTypeInternal   = "urn:accumulator:problem:internal-error"
)

var problemTypes = map[int]string{
	http.StatusNotFound:            ProblemTypeNotFound,
	http.StatusBadRequest:          ProblemTypeBadRequest,
	http.StatusInternalServerError: ProblemTypeInternal,
}

// Problem represents an RFC 7807 Problem Details response.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

// newProblem fills Type and Title from the status code. Instance is the
// request URI including its query, so a rejected history query can be
// replayed from the response alone.
func newProblem(status int, detail string, r *http.Request) Problem {
	typ, ok := problemTypes[status]
	if !ok {
		typ = "about:blank"
	}
	p := Problem{Type: typ, Title: http.StatusText(status), Status: status, Detail: detail}
	if r != nil {
		p.Instance = r.URL.RequestURI()
	}
	return p
}

// WriteProblem writes p as application/problem+json.
func WriteProblem(w http.ResponseWriter, p Problem) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

func NotFound(w http.ResponseWriter, r *http.Request, detail string) {
	WriteProblem(w, newProblem(http.StatusNotFound, detail, r))
}

func BadRequest(w http.ResponseWriter, r *http.Request, detail string) {
	WriteProblem(w, newProblem(http.StatusBadRequest, detail, r))
}

// InternalError writes a 500. detail must not carry storage or driver
// errors; those are logged instead.
func InternalError(w http.ResponseWriter, r *http.Request, detail string) {
	WriteProblem(w, newProblem(http.StatusInternalServerError, detail, r))
}
