// Command arcstamp anchors batches of per-file digest documents to bitcoin
// and proves/verifies individual documents against those anchors.
//
//	arcstamp stamp <itemlist> <docsdir>   aggregate and submit a new batch
//	arcstamp upgrade                      poll calendars for pending batches
//	arcstamp read <identifier>            show the committed digests
//	arcstamp verify [identifier]          verify batches against the chain
//	arcstamp gen-ots <identifier>...      export standalone proof artifacts
//
// Exit codes: 0 verified/ok, 1 invalid, 2 pending or unverifiable (retry
// later, not wrong), 3 usage or input error.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"

	"github.com/arcstamp/arcstamp"
	"github.com/arcstamp/arcstamp/calendar"
	"github.com/arcstamp/arcstamp/chainview"
	"github.com/arcstamp/arcstamp/store"
	"github.com/cheggaaa/pb/v3"
	"github.com/davecgh/go-spew/spew"
	"github.com/pkg/errors"
)

const (
	exitOK      = 0
	exitInvalid = 1
	exitRetry   = 2
	exitUsage   = 3
)

var (
	dataDir = flag.String("data", "arcstamp_data", "directory that holds the batch and handle databases")
	verbose = flag.Bool("v", false, "enable verbose output")
	btcHost = flag.String("btc.host", "localhost:8332", "bitcoin node rpc address")
	btcUser = flag.String("btc.user", "", "bitcoin node rpc user")
	btcPass = flag.String("btc.pass", "", "bitcoin node rpc password")
	calURLs = flag.String("calendars", "", "comma separated calendar base urls, overrides the defaults")
)

func main() {
	flag.Parse()
	args := flag.Args()
	if len(args) < 1 {
		flag.Usage()
		os.Exit(exitUsage)
	}

	var err error
	var code int
	switch args[0] {
	case "stamp", "s":
		code, err = cmdStamp(args[1:])
	case "upgrade", "u":
		code, err = cmdUpgrade(args[1:])
	case "read", "r":
		code, err = cmdRead(args[1:])
	case "verify", "v":
		code, err = cmdVerify(args[1:])
	case "gen-ots", "go":
		code, err = cmdGenOTS(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", args[0])
		flag.Usage()
		os.Exit(exitUsage)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "arcstamp: %v\n", err)
	}

	os.Exit(code)
}

func openStore() (s *store.Store, err error) {
	dir := filepath.Join(*dataDir, "store")
	if err = os.MkdirAll(dir, 0700); err != nil {
		return nil, errors.Wrap(err, "failed to create store directory")
	}

	return store.NewStore(dir, os.Stderr)
}

func openCalendar() (c *calendar.Client, err error) {
	dir := filepath.Join(*dataDir, "calendar")
	if err = os.MkdirAll(dir, 0700); err != nil {
		return nil, errors.Wrap(err, "failed to create calendar directory")
	}

	conf := calendar.DefaultConf()
	if *calURLs != "" {
		conf.Calendars = strings.Split(*calURLs, ",")
	}

	return calendar.New(dir, conf)
}

func openChainView() (cv *chainview.Bitcoin, err error) {
	return chainview.NewBitcoin(&chainview.Conf{
		Host: *btcHost,
		User: *btcUser,
		Pass: *btcPass,
	})
}

//readItemlist returns the identifiers in the file, one per line
func readItemlist(path string) (ids []string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open itemlist")
	}

	defer f.Close()
	scan := bufio.NewScanner(f)
	for scan.Scan() {
		if line := strings.TrimSpace(scan.Text()); line != "" {
			ids = append(ids, line)
		}
	}

	if err = scan.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to read itemlist")
	}

	if len(ids) < 1 {
		return nil, errors.New("itemlist holds no identifiers")
	}

	return ids, nil
}

//cmdStamp aggregates the documents of every identifier in the itemlist into
//a new batch and submits its root to the calendars
func cmdStamp(args []string) (code int, err error) {
	if len(args) != 2 {
		return exitUsage, errors.New("usage: stamp <itemlist> <docsdir>")
	}

	ids, err := readItemlist(args[0])
	if err != nil {
		return exitUsage, err
	}

	docs := make([]*arcstamp.Document, 0, len(ids))
	bar := pb.StartNew(len(ids))
	for _, id := range ids {
		raw, err := ioutil.ReadFile(filepath.Join(args[1], id+".txt"))
		if err != nil {
			return exitUsage, errors.Wrapf(err, "failed to read document for %q", id)
		}

		d, err := arcstamp.ParseDocument(string(raw))
		if err != nil {
			return exitUsage, errors.Wrapf(err, "failed to parse document for %q", id)
		}

		docs = append(docs, d)
		bar.Increment()
	}

	bar.Finish()
	s, err := openStore()
	if err != nil {
		return exitUsage, err
	}

	defer s.Close()
	b, err := s.Append(ids, docs)
	if err != nil {
		return exitUsage, err
	}

	t, err := b.Tree()
	if err != nil {
		return exitUsage, err
	}

	root := t.Root()
	fmt.Printf("batch %d root %x\n", b.ID, root)

	c, err := openCalendar()
	if err != nil {
		return exitUsage, err
	}

	defer c.Close()
	h, err := c.Submit(context.Background(), root)
	if err != nil {
		return exitRetry, err
	}

	fmt.Printf("submitted to %s, state %s\n", h.Calendar, h.State)
	return exitOK, nil
}

//cmdUpgrade polls the calendars for every unattested batch and attaches the
//attestation once a bitcoin block anchors it
func cmdUpgrade(args []string) (code int, err error) {
	s, err := openStore()
	if err != nil {
		return exitUsage, err
	}

	defer s.Close()
	c, err := openCalendar()
	if err != nil {
		return exitUsage, err
	}

	defer c.Close()

	//index stored batches by root so a confirmed handle finds its batch
	roots := map[[arcstamp.DigestSize]byte]uint64{}
	if err = s.Each(func(b *store.Batch) error {
		t, err := b.Tree()
		if err != nil {
			return err
		}

		roots[t.Root()] = b.ID
		return nil
	}); err != nil {
		return exitUsage, err
	}

	pending := 0
	if err = c.Each(func(h *calendar.Handle) error {
		id, ok := roots[h.Digest]
		if !ok {
			return nil //handle for a root we don't store (anymore)
		}

		if _, _, err := s.Attestation(id); err != store.ErrNotYetAttested {
			return err
		}

		h, err := c.Refresh(context.Background(), h.Digest)
		switch errors.Cause(err) {
		case nil:
		case calendar.ErrStillPending, calendar.ErrServiceUnavailable:
			pending++
			fmt.Printf("batch %d: %v\n", id, err)
			return nil
		default:
			fmt.Printf("batch %d: %v\n", id, err)
			return nil
		}

		if err := s.SetAttestation(id, h.Raw); err != nil {
			return err
		}

		att, err := h.Attestation()
		if err != nil {
			return err
		}

		fmt.Printf("batch %d attested at %s\n", id, att)
		if *verbose {
			fmt.Print(spew.Sdump(att))
		}

		return nil
	}); err != nil {
		return exitUsage, err
	}

	if pending > 0 {
		return exitRetry, nil
	}

	return exitOK, nil
}

//cmdRead pretty prints the committed digests of one identifier
func cmdRead(args []string) (code int, err error) {
	fs := flag.NewFlagSet("read", flag.ExitOnError)
	verify := fs.Bool("verify", false, "also verify the identifier")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return exitUsage, errors.New("usage: read [-verify] <identifier>")
	}

	s, err := openStore()
	if err != nil {
		return exitUsage, err
	}

	defer s.Close()
	identifier := fs.Arg(0)
	ref, err := s.Lookup(identifier)
	if err != nil {
		return exitUsage, err
	}

	doc, err := s.Document(ref.Batch, ref.Index)
	if err != nil {
		return exitUsage, err
	}

	for i, e := range doc.Entries() {
		if i > 0 {
			fmt.Println()
		}

		fmt.Printf("Filename: %s\n", e.Filename)
		fmt.Printf("SHA1:     %s\n", hexOrDash(e.SHA1))
		fmt.Printf("MD5:      %s\n", hexOrDash(e.MD5))
		fmt.Printf("CRC32:    %s\n", hexOrDash(e.CRC32))
	}

	if !*verify {
		return exitOK, nil
	}

	return verifyIdentifier(s, identifier)
}

//cmdVerify verifies one identifier, or every stored batch when no identifier
//is given
func cmdVerify(args []string) (code int, err error) {
	s, err := openStore()
	if err != nil {
		return exitUsage, err
	}

	defer s.Close()
	if len(args) == 1 {
		return verifyIdentifier(s, args[0])
	}

	cv, err := openChainView()
	if err != nil {
		return exitUsage, err
	}

	defer cv.Close()
	worst := exitOK
	if err = s.Each(func(b *store.Batch) error {
		c, verr := verifyBatch(s, cv, b)
		if c > worst {
			worst = c
		}

		if verr != nil {
			fmt.Printf("batch %d: FAILED: %v\n", b.ID, verr)
		}

		return nil
	}); err != nil {
		return exitUsage, err
	}

	return worst, nil
}

//verifyBatch checks the batch's attestation against its recomputed root and
//the chain view
func verifyBatch(s *store.Store, cv arcstamp.ChainView, b *store.Batch) (code int, err error) {
	_, att, err := s.Attestation(b.ID)
	if err != nil {
		if errors.Cause(err) == store.ErrNotYetAttested {
			return exitRetry, err
		}

		return exitInvalid, err
	}

	t, err := b.Tree()
	if err != nil {
		return exitInvalid, err
	}

	if t.Root() != att.Root {
		return exitInvalid, arcstamp.ErrPathMismatch
	}

	bi, err := cv.BlockByHeight(context.Background(), att.BlockHeight)
	if err != nil {
		return exitRetry, errors.Wrap(arcstamp.ErrUnverifiable, err.Error())
	}

	if bi.Hash != att.BlockHash {
		return exitInvalid, arcstamp.ErrChainMismatch
	}

	fmt.Printf("batch %d (%d items) verified at %s block %d (time %d)\n",
		b.ID, b.Len(), att.Chain, att.BlockHeight, bi.Time)
	return exitOK, nil
}

//verifyIdentifier runs the full single-leaf verification for one identifier
func verifyIdentifier(s *store.Store, identifier string) (code int, err error) {
	cv, err := openChainView()
	if err != nil {
		return exitUsage, err
	}

	defer cv.Close()
	ref, err := s.Lookup(identifier)
	if err != nil {
		return exitUsage, err
	}

	p, err := s.Extract(ref.Batch, ref.Index)
	if err != nil {
		if errors.Cause(err) == store.ErrNotYetAttested {
			return exitRetry, err
		}

		return exitUsage, err
	}

	doc, err := s.Document(ref.Batch, ref.Index)
	if err != nil {
		return exitUsage, err
	}

	v, err := arcstamp.Verify(context.Background(), p, doc, cv)
	if err != nil {
		if arcstamp.IsTransient(err) {
			return exitRetry, err
		}

		return exitInvalid, err
	}

	fmt.Printf("%s verified at bitcoin block %d (time %d)\n", identifier, v.BlockHeight, v.BlockTime)
	return exitOK, nil
}

//cmdGenOTS exports the standalone proof artifact pair for each identifier:
//the canonical document text and the binary proof referencing it
func cmdGenOTS(args []string) (code int, err error) {
	if len(args) < 1 {
		return exitUsage, errors.New("usage: gen-ots <identifier>...")
	}

	s, err := openStore()
	if err != nil {
		return exitUsage, err
	}

	defer s.Close()
	for _, identifier := range args {
		ref, err := s.Lookup(identifier)
		if err != nil {
			return exitUsage, err
		}

		p, err := s.Extract(ref.Batch, ref.Index)
		if err != nil {
			if errors.Cause(err) == store.ErrNotYetAttested {
				return exitRetry, err
			}

			return exitUsage, err
		}

		//check the proof locally before exporting it
		if p.Root() != p.Att.Root {
			return exitInvalid, errors.Wrapf(arcstamp.ErrPathMismatch, "refusing to export proof for %q", identifier)
		}

		doc, err := s.Document(ref.Batch, ref.Index)
		if err != nil {
			return exitUsage, err
		}

		raw, err := p.Encode()
		if err != nil {
			return exitUsage, err
		}

		txt := identifier + ".txt"
		if err = ioutil.WriteFile(txt, []byte(doc.Text()), 0644); err != nil {
			return exitUsage, errors.Wrap(err, "failed to write document text")
		}

		ots := identifier + ".txt.ots"
		if err = ioutil.WriteFile(ots, raw, 0644); err != nil {
			return exitUsage, errors.Wrap(err, "failed to write proof")
		}

		fmt.Printf("%s, %s\n", txt, ots)
		if *verbose {
			fmt.Print(spew.Sdump(p.Att))
		}
	}

	return exitOK, nil
}

func hexOrDash(b []byte) string {
	if b == nil {
		return "-"
	}

	return fmt.Sprintf("%x", b)
}
