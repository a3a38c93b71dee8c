package testutil

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
)

// ContentsDocument emulates one file behind a contents API: GET returns the
// content base64-encoded with its sha, PUT replaces it when the request
// names the current sha. A missing document answers 404 to GET.
//
// Register it on a Network with Handle(url, doc.Handler).
type ContentsDocument struct {
	mu      sync.Mutex
	content []byte
	rev     int
	exists  bool
	writes  int
	status  int
}

// NewContentsDocument creates an absent document.
func NewContentsDocument() *ContentsDocument {
	return &ContentsDocument{}
}

// Seed sets the document content without counting a write.
func (d *ContentsDocument) Seed(content []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.content = append([]byte(nil), content...)
	d.exists = true
	d.rev++
}

// Reject makes every request answer status. Zero restores normal service.
func (d *ContentsDocument) Reject(status int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.status = status
}

// Content returns the current content and whether the document exists.
func (d *ContentsDocument) Content() ([]byte, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]byte(nil), d.content...), d.exists
}

// Writes returns the number of accepted PUTs.
func (d *ContentsDocument) Writes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writes
}

// SHA returns the current revision identifier.
func (d *ContentsDocument) SHA() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sha()
}

func (d *ContentsDocument) sha() string {
	return "rev-" + strconv.Itoa(d.rev)
}

// Handler serves one request. It implements HandlerFunc.
func (d *ContentsDocument) Handler(req *http.Request) (*http.Response, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.status != 0 {
		return jsonReply(req, d.status, map[string]string{"message": http.StatusText(d.status)}), nil
	}

	switch req.Method {
	case http.MethodGet:
		if !d.exists {
			return jsonReply(req, http.StatusNotFound, map[string]string{"message": "Not Found"}), nil
		}
		return jsonReply(req, http.StatusOK, map[string]string{
			"sha":      d.sha(),
			"content":  base64.StdEncoding.EncodeToString(d.content),
			"encoding": "base64",
		}), nil

	case http.MethodPut:
		var body struct {
			Message string `json:"message"`
			Content string `json:"content"`
			SHA     string `json:"sha"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			return jsonReply(req, http.StatusBadRequest, map[string]string{"message": err.Error()}), nil
		}
		if d.exists && body.SHA != d.sha() {
			return jsonReply(req, http.StatusConflict, map[string]string{"message": "sha does not match"}), nil
		}
		content, err := base64.StdEncoding.DecodeString(body.Content)
		if err != nil {
			return jsonReply(req, http.StatusUnprocessableEntity, map[string]string{"message": err.Error()}), nil
		}
		d.content = content
		d.exists = true
		d.rev++
		d.writes++
		return jsonReply(req, http.StatusOK, map[string]any{"content": map[string]string{"sha": d.sha()}}), nil
	}
	return jsonReply(req, http.StatusMethodNotAllowed, map[string]string{"message": "method not allowed"}), nil
}

func jsonReply(req *http.Request, status int, v any) *http.Response {
	body, _ := json.Marshal(v)
	return NewResponse(req, Reply{Status: status, ContentType: "application/json", Body: string(body)})
}
