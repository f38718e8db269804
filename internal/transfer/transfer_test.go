package transfer

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tclient "github.com/twilio/twilio-go/client"
)

type captured struct {
	path  string
	user  string
	twiml string
	state string
}

type recorded struct {
	mu    sync.Mutex
	calls []captured
}

func (r *recorded) all() []captured {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]captured(nil), r.calls...)
}

// redirect sends every request to the test server, keeping the path.
type redirect struct{ to *url.URL }

func (r redirect) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.URL.Scheme = r.to.Scheme
	req.URL.Host = r.to.Host
	req.Host = r.to.Host
	return http.DefaultTransport.RoundTrip(req)
}

func twilioServer(t *testing.T, status int, body string) (*http.Client, *recorded) {
	t.Helper()
	rec := &recorded{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		user, _, _ := r.BasicAuth()
		rec.mu.Lock()
		rec.calls = append(rec.calls, captured{
			path:  r.URL.Path,
			user:  user,
			twiml: r.PostForm.Get("Twiml"),
			state: r.PostForm.Get("Status"),
		})
		rec.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	to, err := url.Parse(srv.URL)
	require.NoError(t, err)
	return &http.Client{Transport: redirect{to: to}, Timeout: 5 * time.Second}, rec
}

const callJSON = `{"sid":"CA1","status":"in-progress"}`

func TestTwilio_Transfer(t *testing.T) {
	client, rec := twilioServer(t, http.StatusOK, callJSON)
	tw, err := NewTwilio(TwilioConfig{
		AccountSID: "AC1",
		AuthToken:  "tok",
		CallerID:   "+15550000",
	}, client)
	require.NoError(t, err)

	require.NoError(t, tw.Transfer(context.Background(), "CA1", "+15550199"))
	calls := rec.all()
	require.Len(t, calls, 1)
	c := calls[0]
	assert.Equal(t, "/2010-04-01/Accounts/AC1/Calls/CA1.json", c.path)
	assert.Equal(t, "AC1", c.user)
	assert.Contains(t, c.twiml, `<Dial callerId="+15550000">+15550199</Dial>`)
	assert.Contains(t, c.twiml, "<Response>")

	assert.Error(t, tw.Transfer(context.Background(), "CA1", ""))
}

func TestTwilio_EnqueueAndHangup(t *testing.T) {
	client, rec := twilioServer(t, http.StatusOK, callJSON)
	tw, err := NewTwilio(TwilioConfig{AccountSID: "AC1", AuthToken: "tok", Queue: "care & support"}, client)
	require.NoError(t, err)

	require.NoError(t, tw.Enqueue(context.Background(), "CA1"))
	require.NoError(t, tw.Hangup(context.Background(), "CA1"))
	calls := rec.all()
	require.Len(t, calls, 2)
	assert.Contains(t, calls[0].twiml, "<Enqueue>care &amp; support</Enqueue>")
	assert.Empty(t, calls[1].twiml)
	assert.Equal(t, "completed", calls[1].state)
}

func TestTwilio_ErrorStatus(t *testing.T) {
	client, _ := twilioServer(t, http.StatusNotFound, `{"code":20404,"message":"not found","status":404}`)
	tw, err := NewTwilio(TwilioConfig{AccountSID: "AC1", AuthToken: "tok"}, client)
	require.NoError(t, err)

	err = tw.Hangup(context.Background(), "CA404")
	require.Error(t, err)
	var restErr *tclient.TwilioRestError
	require.True(t, errors.As(err, &restErr))
	assert.Equal(t, http.StatusNotFound, restErr.Status)
}

func TestTwilio_ContextBoundsTheWait(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.Write([]byte(callJSON))
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })
	to, err := url.Parse(srv.URL)
	require.NoError(t, err)

	tw, err := NewTwilio(TwilioConfig{AccountSID: "AC1", AuthToken: "tok"}, &http.Client{Transport: redirect{to: to}})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = tw.Hangup(ctx, "CA1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewTwilio_RequiresCredentials(t *testing.T) {
	_, err := NewTwilio(TwilioConfig{AccountSID: "AC1"}, nil)
	assert.Error(t, err)
}
