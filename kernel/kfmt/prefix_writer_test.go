package kfmt

import (
	"bytes"
	"errors"
	"testing"
)

func TestPrefixWriterSplitWrites(t *testing.T) {
	specs := []struct {
		writes []string
		exp    string
	}{
		{nil, ""},
		{[]string{""}, ""},
		{[]string{"\n"}, "kernel: \n"},
		{
			[]string{"[proc] spawned pid 1\n"},
			"kernel: [proc] spawned pid 1\n",
		},
		{
			// a line assembled from several Printf fragments gets a single prefix
			[]string{"[sched] ", "switch ", "1 -> 2\n"},
			"kernel: [sched] switch 1 -> 2\n",
		},
		{
			[]string{"[pmm] free frames: 12\n[pmm] used", " frames: 4\n", "tail"},
			"kernel: [pmm] free frames: 12\nkernel: [pmm] used frames: 4\nkernel: tail",
		},
	}

	var buf bytes.Buffer
	for specIndex, spec := range specs {
		buf.Reset()
		w := PrefixWriter{Sink: &buf, Prefix: []byte("kernel: ")}

		for _, chunk := range spec.writes {
			n, err := w.Write([]byte(chunk))
			if err != nil {
				t.Errorf("[spec %d] unexpected error: %v", specIndex, err)
			}
			if n != len(chunk) {
				t.Errorf("[spec %d] expected Write to report %d bytes; got %d", specIndex, len(chunk), n)
			}
		}

		if got := buf.String(); got != spec.exp {
			t.Errorf("[spec %d] expected output:\n%q\ngot:\n%q", specIndex, spec.exp, got)
		}
	}
}

func TestPrefixWriterSinkFailure(t *testing.T) {
	expErr := errors.New("console detached")

	specs := []struct {
		failAfter int
		expN      int
	}{
		// prefix write fails
		{0, 0},
		// first line body fails after its prefix went out
		{1, 0},
		// second prefix fails once the first line was written
		{2, 5},
	}

	for specIndex, spec := range specs {
		sink := &failingSink{left: spec.failAfter, err: expErr}
		w := PrefixWriter{Sink: sink, Prefix: []byte("> ")}

		n, err := w.Write([]byte("init\nexit\n"))
		if err != expErr {
			t.Errorf("[spec %d] expected error %v; got %v", specIndex, expErr, err)
		}
		if n != spec.expN {
			t.Errorf("[spec %d] expected Write to report %d bytes; got %d", specIndex, spec.expN, n)
		}
	}
}

// failingSink accepts a fixed number of writes before returning err.
type failingSink struct {
	left int
	err  error
}

func (s *failingSink) Write(p []byte) (int, error) {
	if s.left == 0 {
		return 0, s.err
	}
	s.left--
	return len(p), nil
}
