package trackerhttp_test

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avidal/gopher-torrent/internal/metainfo"
	"github.com/avidal/gopher-torrent/internal/trackerhttp"
	"github.com/avidal/gopher-torrent/internal/trackerstate"
	"github.com/avidal/gopher-torrent/internal/trackerstore"
	"github.com/avidal/gopher-torrent/internal/xlog"
)

// multipartUpload builds a "file" multipart body carrying content under
// filename, returning the body and its Content-Type header value.
func multipartUpload(t *testing.T, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func newTestServer(t *testing.T) (*httptest.Server, *trackerstore.Memory) {
	t.Helper()
	store := trackerstore.NewMemory()
	descriptors := trackerstore.NewDescriptorStore()
	machine := trackerstate.NewMachine(store, 1800, 2*time.Hour, 50)
	srv := trackerhttp.NewServer(machine, store, descriptors, xlog.Noop())
	return httptest.NewServer(srv), store
}

func TestUploadThenAnnounce(t *testing.T) {
	ts, _ := newTestServer(t)
	defer ts.Close()

	payload := bytes.Repeat([]byte("x"), 300)
	body, contentType := multipartUpload(t, "file.bin", payload)
	resp, err := http.Post(ts.URL+"/upload?piece_length=131072", contentType, body)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var d metainfo.Descriptor
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&d))
	assert.Equal(t, int64(300), d.Length)
	assert.NotEmpty(t, d.InfoHash)

	announceURL := ts.URL + "/announce?info_hash=" + d.InfoHash + "&peer_id=peerA&port=6881&left=0"
	aResp, err := http.Get(announceURL)
	require.NoError(t, err)
	defer aResp.Body.Close()
	assert.Equal(t, http.StatusOK, aResp.StatusCode)

	var ar trackerstate.AnnounceResponse
	require.NoError(t, json.NewDecoder(aResp.Body).Decode(&ar))
	assert.Equal(t, 1800, ar.Interval)
}

func TestAnnounceUnknownTorrentReturns404(t *testing.T) {
	ts, _ := newTestServer(t)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/announce?info_hash=" + sampleHash() + "&peer_id=p&port=1")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetTorrentNotFound(t *testing.T) {
	ts, _ := newTestServer(t)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/torrents/" + sampleHash())
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStatsEmptyServerReportsZeroTorrents(t *testing.T) {
	ts, _ := newTestServer(t)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/stats")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var stats map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.EqualValues(t, 0, stats["torrents"])
}

func sampleHash() string {
	return "000000000000000000000000000000000000000a"
}
