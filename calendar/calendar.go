//Package calendar turns a batch root into a durable bitcoin attestation by
//submitting it to external timestamping calendars and polling them until a
//block anchors the commitment. Confirmation legitimately takes hours, so the
//flow is modelled as an explicit state machine with caller driven Refresh
//transitions instead of a blocking wait loop, and every handle is persisted
//so polling survives restarts.
package calendar

import (
	"bytes"
	"context"
	"encoding/gob"
	"encoding/hex"
	"io"
	"io/ioutil"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/arcstamp/arcstamp"
	"github.com/boltdb/bolt"
	"github.com/pkg/errors"
)

var boltBucketHandles = []byte{0x00}

//State of a submitted root
type State uint8

const (
	//StateSubmitted means a calendar accepted the digest but we never polled
	StateSubmitted State = iota

	//StatePending means the last poll found no anchoring block yet
	StatePending

	//StateAttested means a complete bitcoin attestation is held
	StateAttested

	//StateFailed means the upstream calendar no longer knows the commitment
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateSubmitted:
		return "submitted"
	case StatePending:
		return "pending"
	case StateAttested:
		return "attested"
	case StateFailed:
		return "failed"
	}

	return "unknown"
}

//Handle tracks one submitted root through confirmation. Raw holds the pending
//marker until the calendar returns a complete attestation, after which it is
//never rewritten: refreshing an attested handle returns the identical bytes
//every time.
type Handle struct {
	Digest      [arcstamp.DigestSize]byte
	Calendar    string
	SubmittedAt int64
	State       State
	Raw         []byte
}

//Attestation resolves the handle's raw bytes, without network access
func (h *Handle) Attestation() (*arcstamp.Attestation, error) {
	return arcstamp.Resolve(h.Raw)
}

//Conf configures the client
type Conf struct {
	//Logs will be written to the writer
	LogWriter io.Writer

	//Calendar base urls, tried in order on submission
	Calendars []string

	//Timeout bounds every single http request
	Timeout time.Duration
}

//DefaultConf returns sensible defaults
func DefaultConf() *Conf {
	return &Conf{
		LogWriter: os.Stderr,
		Calendars: []string{
			"https://a.pool.opentimestamps.org",
			"https://b.pool.opentimestamps.org",
		},
		Timeout: time.Second * 30,
	}
}

//Client submits roots to calendars and refreshes their handles
type Client struct {
	conf *Conf
	logs *log.Logger
	hc   *http.Client
	db   *bolt.DB
}

//New opens the handle database in the given directory, the directory must
//exist
func New(dir string, conf *Conf) (c *Client, err error) {
	if conf == nil {
		conf = DefaultConf()
	}

	c = &Client{
		conf: conf,
		logs: log.New(conf.LogWriter, "", 0),
		hc:   &http.Client{Timeout: conf.Timeout},
	}

	c.db, err = bolt.Open(filepath.Join(dir, "calendar.bolt"), 0600, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open or create handle database")
	}

	if err = c.db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(boltBucketHandles)
		return err
	}); err != nil {
		return nil, errors.Wrap(err, "failed to create handle bucket")
	}

	return c, nil
}

//Close releases the handle database
func (c *Client) Close() (err error) { return c.db.Close() }

//Submit registers the root with the configured calendars and returns without
//waiting for confirmation. Submitting a digest that already has a handle
//returns the existing handle untouched.
func (c *Client) Submit(ctx context.Context, digest [arcstamp.DigestSize]byte) (h *Handle, err error) {
	if h, err = c.Handle(digest); err == nil {
		return h, nil
	}

	if len(c.conf.Calendars) < 1 {
		return nil, ErrNoCalendars
	}

	for _, cal := range c.conf.Calendars {
		raw, err := c.post(ctx, cal+"/digest", digest[:])
		if err != nil {
			c.logs.Printf("[ERRO] submission to %s failed: %v", cal, err)
			continue
		}

		h = &Handle{
			Digest:      digest,
			Calendar:    cal,
			SubmittedAt: time.Now().Unix(),
			State:       StateSubmitted,
			Raw:         raw,
		}

		//a calendar may answer with a complete attestation right away
		if att, err := arcstamp.Resolve(raw); err == nil && att.Root == digest {
			h.State = StateAttested
		} else if errors.Cause(err) != arcstamp.ErrAttestationPending {
			c.logs.Printf("[ERRO] %s returned unusable bytes: %v", cal, err)
			continue
		}

		if err = c.save(h); err != nil {
			return nil, err
		}

		c.logs.Printf("[INFO] submitted %x to %s", digest[:8], cal)
		return h, nil
	}

	return nil, errors.Wrap(ErrServiceUnavailable, "all calendars refused the submission")
}

//Refresh polls the calendar for the handle's confirmation. It is idempotent
//and safe to call repeatedly: either the stored state is left untouched or a
//complete, internally consistent attestation replaces the pending marker in
//one write. A nil error means the handle is attested; ErrStillPending and
//ErrServiceUnavailable invite a later retry, ErrUpstreamUnknown is terminal.
func (c *Client) Refresh(ctx context.Context, digest [arcstamp.DigestSize]byte) (h *Handle, err error) {
	if h, err = c.Handle(digest); err != nil {
		return nil, err
	}

	switch h.State {
	case StateAttested:
		return h, nil
	case StateFailed:
		return h, ErrUpstreamUnknown
	}

	url := h.Calendar + "/timestamp/" + hex.EncodeToString(digest[:])
	req, err := http.NewRequest("GET", url, nil)
	if err != nil {
		return h, errors.Wrap(err, "failed to create request")
	}

	resp, err := c.hc.Do(req.WithContext(ctx))
	if err != nil {
		return h, errors.Wrap(ErrServiceUnavailable, err.Error())
	}

	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		//polled but no block yet, record that we're past submission
		if h.State != StatePending {
			h.State = StatePending
			if err = c.save(h); err != nil {
				return h, err
			}
		}

		return h, ErrStillPending
	case resp.StatusCode == http.StatusGone, resp.StatusCode == http.StatusBadRequest:
		h.State = StateFailed
		if err = c.save(h); err != nil {
			return h, err
		}

		return h, ErrUpstreamUnknown
	default:
		return h, errors.Wrapf(ErrServiceUnavailable, "calendar returned status %d", resp.StatusCode)
	}

	raw, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return h, errors.Wrap(ErrServiceUnavailable, err.Error())
	}

	att, err := arcstamp.Resolve(raw)
	if err != nil {
		if errors.Cause(err) == arcstamp.ErrAttestationPending {
			return h, ErrStillPending
		}

		return h, errors.Wrap(ErrServiceUnavailable, err.Error())
	}

	if att.Root != digest {
		return h, errors.Wrap(ErrServiceUnavailable, "calendar attested a different digest")
	}

	h.State = StateAttested
	h.Raw = raw
	if err = c.save(h); err != nil {
		return h, err
	}

	c.logs.Printf("[INFO] %x attested at %s", digest[:8], att)
	return h, nil
}

//Handle loads the tracked handle for a digest
func (c *Client) Handle(digest [arcstamp.DigestSize]byte) (h *Handle, err error) {
	if err = c.db.View(func(tx *bolt.Tx) error {
		d := tx.Bucket(boltBucketHandles).Get(digest[:])
		if d == nil {
			return ErrHandleNotExist
		}

		h = &Handle{}
		return gob.NewDecoder(bytes.NewReader(d)).Decode(h)
	}); err != nil {
		if err == ErrHandleNotExist {
			return nil, err
		}

		return nil, errors.Wrap(err, "failed to load handle")
	}

	return h, nil
}

//Each calls f for every tracked handle
func (c *Client) Each(f func(h *Handle) error) (err error) {
	return c.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(boltBucketHandles).ForEach(func(k, d []byte) error {
			h := &Handle{}
			if err := gob.NewDecoder(bytes.NewReader(d)).Decode(h); err != nil {
				return errors.Wrap(err, "failed to decode handle")
			}

			return f(h)
		})
	})
}

//save writes the full handle record in a single update so a crash can never
//leave a half written state behind
func (c *Client) save(h *Handle) (err error) {
	buf := bytes.NewBuffer(nil)
	if err = gob.NewEncoder(buf).Encode(h); err != nil {
		return errors.Wrap(err, "failed to encode handle")
	}

	if err = c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(boltBucketHandles).Put(h.Digest[:], buf.Bytes())
	}); err != nil {
		return errors.Wrap(err, "failed to store handle")
	}

	return nil
}

//post sends body to the url and returns the response bytes
func (c *Client) post(ctx context.Context, url string, body []byte) (raw []byte, err error) {
	req, err := http.NewRequest("POST", url, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := c.hc.Do(req.WithContext(ctx))
	if err != nil {
		return nil, errors.Wrap(ErrServiceUnavailable, err.Error())
	}

	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Wrapf(ErrServiceUnavailable, "calendar returned status %d", resp.StatusCode)
	}

	if raw, err = ioutil.ReadAll(resp.Body); err != nil {
		return nil, errors.Wrap(ErrServiceUnavailable, err.Error())
	}

	return raw, nil
}
