package worker

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/roach88/hydroplante/internal/model"
)

// offlineBody is the encoded bypass failure payload.
var offlineBody = mustJSON(model.OfflinePayload{Error: model.OfflineError})

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

// placeholderResponse answers a cacheable request that has neither a cached
// copy nor a network response.
func placeholderResponse(req *http.Request) *http.Response {
	return synthesize(req, model.OfflineStatus, "text/plain; charset=utf-8", nil)
}

// offlineResponse answers an API request the network could not deliver.
func offlineResponse(req *http.Request) *http.Response {
	return synthesize(req, model.OfflineStatus, "application/json", offlineBody)
}

func synthesize(req *http.Request, status int, contentType string, body []byte) *http.Response {
	header := http.Header{}
	header.Set("Content-Type", contentType)
	header.Set("Content-Length", strconv.Itoa(len(body)))
	return &http.Response{
		Status:        strconv.Itoa(status) + " " + http.StatusText(status),
		StatusCode:    status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}
