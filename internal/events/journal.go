package events

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"

	"github.com/roostlabs/roost/protocol"
)

// journalHeader is the first line of a persisted journal. It records
// the cursor counter so restarts keep cursors monotonic even when the
// journal itself is empty.
type journalHeader struct {
	Cursor uint64 `json:"cursor"`
}

// SaveJournal writes the journal to path as zstd-compressed JSONL: a
// header line followed by one event per line. The write goes through a
// temp file and rename so a crash never leaves a torn journal.
func (b *Bus) SaveJournal(path string) error {
	b.mu.Lock()
	header := journalHeader{Cursor: b.cursor}
	entries := make([]protocol.ObservedEvent, len(b.journal))
	copy(entries, b.journal)
	b.mu.Unlock()

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create journal: %w", err)
	}
	enc, err := zstd.NewWriter(f)
	if err != nil {
		f.Close()
		return fmt.Errorf("zstd writer: %w", err)
	}
	w := bufio.NewWriter(enc)

	write := func(v any) error {
		line, err := json.Marshal(v)
		if err != nil {
			return err
		}
		if _, err := w.Write(line); err != nil {
			return err
		}
		return w.WriteByte('\n')
	}
	if err := write(header); err == nil {
		for _, ev := range entries {
			if err = write(ev); err != nil {
				break
			}
		}
	}
	if err != nil {
		enc.Close()
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write journal: %w", err)
	}
	if err := w.Flush(); err != nil {
		enc.Close()
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("flush journal: %w", err)
	}
	if err := enc.Close(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("close zstd: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close journal: %w", err)
	}
	return os.Rename(tmp, path)
}

// LoadJournal restores the journal and cursor counter from a file
// written by SaveJournal. A missing file is not an error. The bus must
// not have published yet.
func (b *Bus) LoadJournal(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return fmt.Errorf("zstd reader: %w", err)
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return fmt.Errorf("read journal header: %w", err)
		}
		return io.ErrUnexpectedEOF
	}
	var header journalHeader
	if err := json.Unmarshal(sc.Bytes(), &header); err != nil {
		return fmt.Errorf("decode journal header: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.cursor = header.Cursor
	b.journal = b.journal[:0]
	for sc.Scan() {
		var ev protocol.ObservedEvent
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
			continue
		}
		b.append(ev)
		if ev.Cursor > b.cursor {
			b.cursor = ev.Cursor
		}
	}
	return sc.Err()
}
