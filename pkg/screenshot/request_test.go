package screenshot

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/shutter/pkg/engine"
)

func TestRequestJSON(t *testing.T) {
	var req Request
	err := json.Unmarshal([]byte(`{
		"file": "https://example.com",
		"file_type": "auto",
		"type": "jpeg",
		"quality": 70,
		"multiPage": 1200,
		"setViewport": {"width": 1024},
		"waitForSelector": "#app",
		"waitForFunction": ["window.a", "window.b"],
		"idleTime": 0,
		"encoding": "base64",
		"retry": 2
	}`), &req)
	require.NoError(t, err)

	assert.Equal(t, engine.JPEG, req.Type)
	assert.Equal(t, int64(70), req.Quality.Int64)
	assert.Equal(t, MultiPageHeight(1200), req.MultiPage)
	assert.Equal(t, &Viewport{Width: 1024}, req.SetViewport)
	assert.Equal(t, StringList{"#app"}, req.WaitForSelector)
	assert.Equal(t, StringList{"window.a", "window.b"}, req.WaitForFunction)
	assert.True(t, req.IdleTime.Valid)
	assert.Equal(t, int64(0), req.IdleTime.Int64)
	assert.Equal(t, Base64, req.Encoding)
	assert.Equal(t, 2, req.Retry)
}

func TestMultiPageJSON(t *testing.T) {
	tests := []struct {
		in   string
		want MultiPage
	}{
		{`true`, MultiPage{Enabled: true}},
		{`false`, MultiPage{}},
		{`null`, MultiPage{}},
		{`900`, MultiPageHeight(900)},
		{`0`, MultiPage{}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			var m MultiPage
			require.NoError(t, json.Unmarshal([]byte(tt.in), &m))
			assert.Equal(t, tt.want, m)
		})
	}

	var m MultiPage
	assert.Error(t, json.Unmarshal([]byte(`"tall"`), &m))

	out, err := json.Marshal(MultiPageHeight(900))
	require.NoError(t, err)
	assert.Equal(t, `900`, string(out))
	out, err = json.Marshal(MultiPage{Enabled: true})
	require.NoError(t, err)
	assert.Equal(t, `true`, string(out))
}

func TestStringListJSON(t *testing.T) {
	var s StringList
	require.NoError(t, json.Unmarshal([]byte(`"one"`), &s))
	assert.Equal(t, StringList{"one"}, s)

	require.NoError(t, json.Unmarshal([]byte(`["a","b"]`), &s))
	assert.Equal(t, StringList{"a", "b"}, s)

	assert.Error(t, json.Unmarshal([]byte(`42`), &s))
}

func TestRequestDefaults(t *testing.T) {
	req := Request{Retry: -2}.WithDefaults()

	assert.Equal(t, KindAuto, req.FileType)
	assert.Equal(t, "body", req.Selector)
	assert.Equal(t, engine.PNG, req.Type)
	assert.Equal(t, int64(90), req.Quality.Int64)
	assert.Equal(t, 30000, req.Timeout)
	assert.Equal(t, Binary, req.Encoding)
	assert.Equal(t, 1, req.Retry)
	assert.False(t, req.IdleTime.Valid, "idle time stays null so the session value applies")
}

func TestRequestValidate(t *testing.T) {
	tests := []struct {
		name string
		req  Request
		ok   bool
	}{
		{"zero value", Request{}, true},
		{"webp", Request{Type: engine.WebP}, true},
		{"bmp", Request{Type: "bmp"}, false},
		{"hex encoding", Request{Encoding: "hex"}, false},
		{"negative slice", Request{MultiPage: MultiPageHeight(-1)}, false},
		{"negative viewport", Request{SetViewport: &Viewport{Width: -1}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrInvalidRequest)
		})
	}
}

func TestResultJSON(t *testing.T) {
	ok := success(Request{Encoding: Base64}.WithDefaults(), [][]byte{[]byte("img")})
	out, err := json.Marshal(ok)
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":true,"data":"aW1n"}`, string(out))

	multi := success(Request{Encoding: Base64, MultiPage: MultiPage{Enabled: true}}.WithDefaults(),
		[][]byte{[]byte("a"), []byte("b")})
	out, err = json.Marshal(multi)
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":true,"data":["YQ==","Yg=="]}`, string(out))
	assert.Equal(t, 8, multi.Size())
	assert.Equal(t, 2, multi.Bytes)

	failed := failure(errors.New("boom"))
	out, err = json.Marshal(failed)
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":false,"data":{"message":"boom"}}`, string(out))
	assert.Equal(t, 0, failed.Size())
}

func TestIsURL(t *testing.T) {
	assert.True(t, isURL("https://example.com/a?b=c"))
	assert.True(t, isURL("file:///tmp/page.html"))
	assert.True(t, isURL("data:text/html,<p>hi</p>"))
	assert.False(t, isURL("/tmp/page.html"))
	assert.False(t, isURL("page.html"))
	assert.False(t, isURL("<p>a:b</p>"))
	assert.False(t, isURL(""))
}

func TestSlicePath(t *testing.T) {
	assert.Equal(t, "", SlicePath("", 3))
	assert.Equal(t, "out-2.jpeg", SlicePath("out.jpeg", 2))
	assert.Equal(t, "/tmp/shot-0", SlicePath("/tmp/shot", 0))
}
