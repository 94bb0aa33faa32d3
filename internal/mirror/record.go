package mirror

import (
	"context"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

// recordFields is the fixed arity of the version announcement.
// Only four positions are meaningful; the rest are reserved.
const recordFields = 8

// Record is the authoritative version announcement fetched once per
// run.  It is immutable after parsing.
type Record struct {
	Main         int
	Daily        int
	Bytecode     int
	Safebrowsing int

	// Raw is the announcement exactly as fetched, republished
	// verbatim as dns.txt.
	Raw string
}

// ParseRecord decodes the colon-delimited version announcement.
//
// The format is positional: field 1 carries the main version, field 2
// daily, field 6 safebrowsing and field 7 bytecode.  A record with the
// wrong field count is a protocol violation and is never retried.
func ParseRecord(s string) (*Record, error) {
	fields := strings.Split(strings.TrimSpace(s), ":")
	if len(fields) != recordFields {
		return nil, errors.Newf("malformed version record: got %d fields, want %d: %q", len(fields), recordFields, s)
	}

	rec := &Record{Raw: strings.TrimSpace(s)}
	for _, pos := range []struct {
		idx  int
		name string
		dst  *int
	}{
		{1, "main", &rec.Main},
		{2, "daily", &rec.Daily},
		{6, "safebrowsing", &rec.Safebrowsing},
		{7, "bytecode", &rec.Bytecode},
	} {
		v, err := strconv.Atoi(fields[pos.idx])
		if err != nil {
			return nil, errors.Wrapf(err, "malformed %s version in record %q", pos.name, s)
		}
		*pos.dst = v
	}
	return rec, nil
}

// Version returns the announced version for the given family.
func (r *Record) Version(f Family) int {
	switch f {
	case FamilyMain:
		return r.Main
	case FamilyDaily:
		return r.Daily
	case FamilyBytecode:
		return r.Bytecode
	case FamilySafebrowsing:
		return r.Safebrowsing
	}
	return 0
}

// FetchRecord retrieves and parses the version announcement from the
// TXT host.  Empty answers are retried; a malformed record aborts
// immediately.
func FetchRecord(ctx context.Context, r *Resolver, txtHost string) (*Record, error) {
	policy := RetryPolicy{
		MaxAttempts: recordAttempts,
		Delay:       retryPause,
		Sleep:       r.sleep,
	}

	var txt string
	err := policy.Do(ctx, func(ctx context.Context) error {
		s, err := r.lookupTXT(ctx, txtHost)
		if err != nil {
			return err
		}
		if s == "" {
			return errors.New("empty TXT answer for " + txtHost)
		}
		txt = s
		return nil
	})
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "record fetch exhausted"), ErrRecordUnavailable)
	}

	rec, err := ParseRecord(txt)
	if err != nil {
		return nil, errors.Mark(err, ErrRecordUnavailable)
	}
	return rec, nil
}
