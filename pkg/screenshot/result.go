package screenshot

import (
	"encoding/base64"
	"encoding/json"
)

// Result is the outcome of one Request. On success exactly one of Images or
// Encoded is populated, in slice order.
type Result struct {
	Status   bool
	Multi    bool
	Encoding Encoding
	Images   [][]byte
	Encoded  []string

	// Bytes is the total size of the captured images before encoding.
	Bytes int

	// Message and Err describe the terminal failure.
	Message string
	Err     error
}

func success(req Request, images [][]byte) Result {
	r := Result{
		Status:   true,
		Multi:    req.MultiPage.Enabled,
		Encoding: req.Encoding,
	}
	for _, img := range images {
		r.Bytes += len(img)
	}
	if req.Encoding == Base64 {
		r.Encoded = make([]string, len(images))
		for i, img := range images {
			r.Encoded[i] = base64.StdEncoding.EncodeToString(img)
		}
		return r
	}
	r.Images = images
	return r
}

func failure(err error) Result {
	msg := "screenshot failed"
	if err != nil {
		msg = err.Error()
	}
	return Result{Message: msg, Err: err}
}

// Size returns the total payload size in bytes as delivered.
func (r Result) Size() int {
	n := 0
	for _, img := range r.Images {
		n += len(img)
	}
	for _, s := range r.Encoded {
		n += len(s)
	}
	return n
}

// Count returns the number of images.
func (r Result) Count() int {
	if r.Encoded != nil {
		return len(r.Encoded)
	}
	return len(r.Images)
}

// Value returns the data payload: a string or []byte for single captures,
// a slice of them for multi-page captures, or {"message": ...} on failure.
func (r Result) Value() interface{} {
	if !r.Status {
		return map[string]string{"message": r.Message}
	}
	if r.Encoding == Base64 {
		if r.Multi {
			return r.Encoded
		}
		if len(r.Encoded) == 0 {
			return ""
		}
		return r.Encoded[0]
	}
	if r.Multi {
		return r.Images
	}
	if len(r.Images) == 0 {
		return []byte(nil)
	}
	return r.Images[0]
}

// MarshalJSON renders {"status": bool, "data": ...}. Raw bytes become base64
// strings under encoding/json rules.
func (r Result) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Status bool        `json:"status"`
		Data   interface{} `json:"data"`
	}{
		Status: r.Status,
		Data:   r.Value(),
	})
}
