package calendar_test

import (
	"context"
	"encoding/hex"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/advanderveer/go-test"
	"github.com/arcstamp/arcstamp"
	"github.com/arcstamp/arcstamp/calendar"
	"github.com/pkg/errors"
)

//upstream fakes a timestamping calendar, the timestamp response is switched
//per test
type upstream struct {
	submitStatus int
	pollStatus   int
	pollBody     func(digest [arcstamp.DigestSize]byte) []byte
}

func (u *upstream) serve(t *testing.T) (svr *httptest.Server) {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == "POST" && r.URL.Path == "/digest":
			body, err := ioutil.ReadAll(r.Body)
			test.Ok(t, err)
			test.Equals(t, arcstamp.DigestSize, len(body))

			if u.submitStatus != http.StatusOK {
				w.WriteHeader(u.submitStatus)
				return
			}

			var digest [arcstamp.DigestSize]byte
			copy(digest[:], body)
			w.Write(arcstamp.EncodePending(digest, "http://"+r.Host))
		case r.Method == "GET" && strings.HasPrefix(r.URL.Path, "/timestamp/"):
			w.WriteHeader(u.pollStatus)
			if u.pollStatus == http.StatusOK {
				raw, err := hex.DecodeString(strings.TrimPrefix(r.URL.Path, "/timestamp/"))
				test.Ok(t, err)
				test.Equals(t, arcstamp.DigestSize, len(raw))

				var digest [arcstamp.DigestSize]byte
				copy(digest[:], raw)
				w.Write(u.pollBody(digest))
			}
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func attestedBody(digest [arcstamp.DigestSize]byte) []byte {
	att := &arcstamp.Attestation{
		Root:        digest,
		Chain:       arcstamp.ChainBitcoin,
		BlockHeight: 900000,
		BlockTime:   1735000000,
	}

	att.BlockHash[0] = 0xb1
	return att.Encode()
}

func tempClient(t *testing.T, conf *calendar.Conf) (c *calendar.Client, clean func()) {
	dir, err := ioutil.TempDir("", "arcstamp_")
	test.Ok(t, err)

	conf.LogWriter = ioutil.Discard
	c, err = calendar.New(dir, conf)
	test.Ok(t, err)

	return c, func() {
		test.Ok(t, c.Close())
		test.Ok(t, os.RemoveAll(dir))
	}
}

func testDigest() (d [arcstamp.DigestSize]byte) {
	d[0] = 0xaa
	return
}

func TestSubmitAndConfirm(t *testing.T) {
	u := &upstream{submitStatus: http.StatusOK, pollStatus: http.StatusNotFound}
	svr := u.serve(t)
	defer svr.Close()

	c, clean := tempClient(t, &calendar.Conf{Calendars: []string{svr.URL}})
	defer clean()

	ctx := context.Background()
	digest := testDigest()

	h, err := c.Submit(ctx, digest)
	test.Ok(t, err)
	test.Equals(t, calendar.StateSubmitted, h.State)
	test.Equals(t, svr.URL, h.Calendar)

	t.Run("resubmission returns the existing handle", func(t *testing.T) {
		h2, err := c.Submit(ctx, digest)
		test.Ok(t, err)
		test.Equals(t, h, h2)
	})

	t.Run("pending marker resolves as pending", func(t *testing.T) {
		_, err := h.Attestation()
		test.Equals(t, arcstamp.ErrAttestationPending, errors.Cause(err))
	})

	//no anchoring block yet
	h, err = c.Refresh(ctx, digest)
	test.Equals(t, calendar.ErrStillPending, errors.Cause(err))
	test.Equals(t, calendar.StatePending, h.State)

	//the calendar now returns a complete attestation
	u.pollStatus = http.StatusOK
	u.pollBody = attestedBody
	h, err = c.Refresh(ctx, digest)
	test.Ok(t, err)
	test.Equals(t, calendar.StateAttested, h.State)

	att, err := h.Attestation()
	test.Ok(t, err)
	test.Equals(t, digest, att.Root)
	test.Equals(t, int64(900000), att.BlockHeight)

	t.Run("attested handle never changes again", func(t *testing.T) {
		svr.Close() //refreshing must not touch the network anymore

		h2, err := c.Refresh(ctx, digest)
		test.Ok(t, err)
		test.Equals(t, h.Raw, h2.Raw)
	})

	t.Run("each visits the handle", func(t *testing.T) {
		var n int
		test.Ok(t, c.Each(func(h *calendar.Handle) error {
			n++
			test.Equals(t, digest, h.Digest)
			return nil
		}))
		test.Equals(t, 1, n)
	})
}

func TestSubmitFallsBackToNextCalendar(t *testing.T) {
	bad := (&upstream{submitStatus: http.StatusInternalServerError}).serve(t)
	defer bad.Close()
	good := (&upstream{submitStatus: http.StatusOK}).serve(t)
	defer good.Close()

	c, clean := tempClient(t, &calendar.Conf{Calendars: []string{bad.URL, good.URL}})
	defer clean()

	h, err := c.Submit(context.Background(), testDigest())
	test.Ok(t, err)
	test.Equals(t, good.URL, h.Calendar)
}

func TestSubmitAllCalendarsDown(t *testing.T) {
	svr := (&upstream{submitStatus: http.StatusServiceUnavailable}).serve(t)
	defer svr.Close()

	c, clean := tempClient(t, &calendar.Conf{Calendars: []string{svr.URL}})
	defer clean()

	_, err := c.Submit(context.Background(), testDigest())
	test.Equals(t, calendar.ErrServiceUnavailable, errors.Cause(err))

	t.Run("no calendars configured", func(t *testing.T) {
		c2, clean2 := tempClient(t, &calendar.Conf{})
		defer clean2()

		_, err := c2.Submit(context.Background(), testDigest())
		test.Equals(t, calendar.ErrNoCalendars, errors.Cause(err))
	})
}

func TestRefreshTransientFailure(t *testing.T) {
	u := &upstream{submitStatus: http.StatusOK, pollStatus: http.StatusInternalServerError}
	svr := u.serve(t)
	defer svr.Close()

	c, clean := tempClient(t, &calendar.Conf{Calendars: []string{svr.URL}})
	defer clean()

	ctx := context.Background()
	digest := testDigest()
	_, err := c.Submit(ctx, digest)
	test.Ok(t, err)

	h, err := c.Refresh(ctx, digest)
	test.Equals(t, calendar.ErrServiceUnavailable, errors.Cause(err))
	test.Equals(t, calendar.StateSubmitted, h.State) //left untouched, retry later
}

func TestRefreshUpstreamForgot(t *testing.T) {
	u := &upstream{submitStatus: http.StatusOK, pollStatus: http.StatusGone}
	svr := u.serve(t)
	defer svr.Close()

	c, clean := tempClient(t, &calendar.Conf{Calendars: []string{svr.URL}})
	defer clean()

	ctx := context.Background()
	digest := testDigest()
	_, err := c.Submit(ctx, digest)
	test.Ok(t, err)

	h, err := c.Refresh(ctx, digest)
	test.Equals(t, calendar.ErrUpstreamUnknown, errors.Cause(err))
	test.Equals(t, calendar.StateFailed, h.State)

	t.Run("failure is terminal", func(t *testing.T) {
		svr.Close()

		_, err := c.Refresh(ctx, digest)
		test.Equals(t, calendar.ErrUpstreamUnknown, errors.Cause(err))
	})
}

func TestRefreshUnknownHandle(t *testing.T) {
	c, clean := tempClient(t, &calendar.Conf{})
	defer clean()

	_, err := c.Refresh(context.Background(), testDigest())
	test.Equals(t, calendar.ErrHandleNotExist, errors.Cause(err))

	_, err = c.Handle(testDigest())
	test.Equals(t, calendar.ErrHandleNotExist, errors.Cause(err))
}
