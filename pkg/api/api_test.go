package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/fako1024/lpgmon/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDeviceID = "A1B2C3D4E5F6"

func validForm() url.Values {
	return url.Values{
		"ssid":     {"Home"},
		"pass":     {"secret1"},
		"fb_email": {"user@example.com"},
		"fb_pass":  {"hunter2"},
		"dev_name": {"Kitchen"},
	}
}

func postForm(t *testing.T, s *Server, form url.Values) (*http.Response, Response) {
	req := httptest.NewRequest(http.MethodPost, "/save_config", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.App().Test(req, -1)
	require.Nil(t, err)

	var body Response
	require.Nil(t, json.NewDecoder(resp.Body).Decode(&body))

	return resp, body
}

// serve answers all submissions with the result of fn until done is closed
func serve(s *Server, fn func(store.ProvisioningRecord) error, done chan struct{}) {
	go func() {
		for {
			select {
			case <-done:
				return
			default:
			}
			if sub, ok := s.Poll(); ok {
				sub.Reply(fn(sub.Record))
				continue
			}
			time.Sleep(time.Millisecond)
		}
	}()
}

func TestIndex(t *testing.T) {
	s := New(testDeviceID)

	resp, err := s.App().Test(httptest.NewRequest(http.MethodGet, "/", nil), -1)
	require.Nil(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")

	body, err := io.ReadAll(resp.Body)
	require.Nil(t, err)
	assert.Contains(t, string(body), testDeviceID)
}

func TestNotFound(t *testing.T) {
	s := New(testDeviceID)

	for _, req := range []*http.Request{
		httptest.NewRequest(http.MethodGet, "/foo", nil),
		httptest.NewRequest(http.MethodGet, "/save_config", nil),
		httptest.NewRequest(http.MethodPost, "/", nil),
	} {
		resp, err := s.App().Test(req, -1)
		require.Nil(t, err)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)

		body, err := io.ReadAll(resp.Body)
		require.Nil(t, err)
		assert.Equal(t, "Not found", string(body))
	}
}

func TestMissingFields(t *testing.T) {
	var results []string
	s := New(testDeviceID, WithResultHandler(func(r string) {
		results = append(results, r)
	}))

	for _, field := range []string{"ssid", "pass", "fb_email", "fb_pass", "dev_name"} {
		t.Run(field, func(t *testing.T) {
			form := validForm()
			form.Del(field)

			resp, body := postForm(t, s, form)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, Response{
				Status:  "error",
				Message: "Missing required configuration parameters.",
			}, body)

			// Nothing must have been handed over to the main loop
			_, pending := s.Poll()
			assert.False(t, pending)
		})
	}
	assert.Len(t, results, 5)
	for _, r := range results {
		assert.Equal(t, ResultInvalid, r)
	}
}

func TestMissingFieldsRawBody(t *testing.T) {
	s := New(testDeviceID)

	req := httptest.NewRequest(http.MethodPost, "/save_config", strings.NewReader("ssid=Home&pass=x"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := s.App().Test(req, -1)
	require.Nil(t, err)

	raw, err := io.ReadAll(resp.Body)
	require.Nil(t, err)
	assert.JSONEq(t, `{"status":"error","message":"Missing required configuration parameters."}`, string(raw))
}

func TestSaveConfig(t *testing.T) {
	s := New(testDeviceID)

	var saved []store.ProvisioningRecord
	done := make(chan struct{})
	defer close(done)
	records := make(chan store.ProvisioningRecord, 2)
	serve(s, func(rec store.ProvisioningRecord) error {
		records <- rec
		return nil
	}, done)

	// Submitting twice yields the same record both times
	for i := 0; i < 2; i++ {
		resp, body := postForm(t, s, validForm())
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "success", body.Status)
		assert.Equal(t, testDeviceID, body.DeviceID)
		assert.NotEmpty(t, body.Message)
		saved = append(saved, <-records)
	}

	expected := store.ProvisioningRecord{
		NetworkName:     "Home",
		NetworkPassword: "secret1",
		AccountEmail:    "user@example.com",
		AccountSecret:   "hunter2",
		FriendlyName:    "Kitchen",
	}
	assert.Equal(t, []store.ProvisioningRecord{expected, expected}, saved)
}

func TestSaveConfigEmptyPassword(t *testing.T) {
	s := New(testDeviceID)

	done := make(chan struct{})
	defer close(done)
	records := make(chan store.ProvisioningRecord, 1)
	serve(s, func(rec store.ProvisioningRecord) error {
		records <- rec
		return nil
	}, done)

	form := validForm()
	form.Set("pass", "")
	resp, _ := postForm(t, s, form)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "", (<-records).NetworkPassword)
}

func TestSaveConfigPersistFailure(t *testing.T) {
	s := New(testDeviceID)

	done := make(chan struct{})
	defer close(done)
	serve(s, func(store.ProvisioningRecord) error {
		return errors.New("disk full")
	}, done)

	resp, body := postForm(t, s, validForm())
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "error", body.Status)
}

func TestSaveConfigLoopBusy(t *testing.T) {
	s := New(testDeviceID, WithReplyTimeout(50*time.Millisecond))

	resp, body := postForm(t, s, validForm())
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "error", body.Status)
}

func TestStartStop(t *testing.T) {
	s := New(testDeviceID)

	require.Nil(t, s.Start("127.0.0.1:0"))
	assert.True(t, s.Running())
	assert.ErrorIs(t, s.Start("127.0.0.1:0"), ErrPortalRunning)
	require.Nil(t, s.Stop())
	assert.False(t, s.Running())

	// Restarting after a shutdown serves again
	require.Nil(t, s.Start("127.0.0.1:0"))
	require.Nil(t, s.Stop())
	require.Nil(t, s.Stop())
}
