package whatsapp

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joaopba/hcc-med-pay-flow-sub001/internal/model"
)

func newMessage(t *testing.T, payload model.Payload) *model.OutboundMessage {
	t.Helper()
	msg, err := model.NewOutboundMessage("5511988887777", payload, 1, 3, time.Now())
	require.NoError(t, err)
	return msg
}

func TestSendText(t *testing.T) {
	var got textRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, pathSendText, r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(5*time.Second, nil, nil)
	settings := &model.ChannelSettings{APIBaseURL: srv.URL + "/", AuthToken: "secret"}

	err := c.Send(context.Background(), settings, newMessage(t, model.TextPayload("Olá")))
	require.NoError(t, err)
	assert.Equal(t, "5511988887777", got.Phone)
	assert.Equal(t, "Olá", got.Message)
}

func TestSendDocumentFetchesURLAndUploadsMultipart(t *testing.T) {
	pdf := []byte("%PDF-1.4 body")

	files := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write(pdf)
	}))
	defer files.Close()

	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, pathSendDocument, r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "5511988887777", r.FormValue("phone"))
		assert.Equal(t, "Sua nota", r.FormValue("caption"))
		assert.Equal(t, "nf.pdf", r.FormValue("fileName"))

		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		body, _ := io.ReadAll(f)
		assert.Equal(t, pdf, body)
		assert.Equal(t, "nf.pdf", hdr.Filename)
		assert.Equal(t, "application/pdf", hdr.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusCreated)
	}))
	defer api.Close()

	c := NewClient(5*time.Second, nil, nil)
	settings := &model.ChannelSettings{APIBaseURL: api.URL, AuthToken: "secret"}
	att := model.NewURLAttachment(files.URL+"/docs/nf.pdf", "", "")

	err := c.Send(context.Background(), settings, newMessage(t, model.DocumentPayload(att, "Sua nota")))
	require.NoError(t, err)
}

func TestSendDuplicateIsDelivered(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"Duplicate message id"}`))
	}))
	defer srv.Close()

	c := NewClient(5*time.Second, nil, nil)
	settings := &model.ChannelSettings{APIBaseURL: srv.URL, AuthToken: "secret"}

	err := c.Send(context.Background(), settings, newMessage(t, model.TextPayload("hi")))
	require.Error(t, err)
	assert.True(t, IsDuplicate(err))
	assert.True(t, Delivered(err))
}

func TestSendServerErrorMentioningDuplicateIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"pq: duplicate key value violates unique constraint \"messages_pkey\""}`))
	}))
	defer srv.Close()

	c := NewClient(5*time.Second, nil, nil)
	settings := &model.ChannelSettings{APIBaseURL: srv.URL, AuthToken: "secret"}

	err := c.Send(context.Background(), settings, newMessage(t, model.TextPayload("hi")))
	require.Error(t, err)
	assert.False(t, IsDuplicate(err))
	assert.False(t, Delivered(err))
}

func TestDuplicateAnswerClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   bool
	}{
		{name: "conflict", status: http.StatusConflict, body: "", want: true},
		{name: "client error with duplicate body", status: http.StatusUnprocessableEntity, body: "Duplicate message", want: true},
		{name: "client error without duplicate body", status: http.StatusBadRequest, body: "invalid number", want: false},
		{name: "server error with duplicate body", status: http.StatusInternalServerError, body: "duplicate key value", want: false},
		{name: "bad gateway with duplicate body", status: http.StatusBadGateway, body: "duplicate", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := newDeliveryError(tt.status, []byte(tt.body))
			assert.Equal(t, tt.want, err.Duplicate)
			assert.Equal(t, tt.want, Delivered(err))
		})
	}
}

func TestSendFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("upstream down"))
	}))
	defer srv.Close()

	c := NewClient(5*time.Second, nil, nil)
	settings := &model.ChannelSettings{APIBaseURL: srv.URL, AuthToken: "secret"}

	err := c.Send(context.Background(), settings, newMessage(t, model.TextPayload("hi")))
	require.Error(t, err)
	assert.False(t, Delivered(err))

	var de *DeliveryError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, http.StatusInternalServerError, de.StatusCode)
	assert.Contains(t, err.Error(), "upstream down")
}

func TestSendRequiresSettings(t *testing.T) {
	c := NewClient(time.Second, nil, nil)
	err := c.Send(context.Background(), &model.ChannelSettings{}, newMessage(t, model.TextPayload("hi")))
	assert.Error(t, err)
}

func TestFetcherRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := NewFetcher(srv.Client(), 3, time.Millisecond)
	body, _, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), body)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestFetcherDoesNotRetryNotFound(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := NewFetcher(srv.Client(), 3, time.Millisecond)
	_, _, err := f.Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}
