package oplog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"

	"github.com/erewhon/nous-sub001/pkg/core"
)

// AppendEntry opens path in create+append mode and writes exactly one JSON
// object followed by "\n". Concurrent appends within one process must be
// serialized by the caller (pkg/store's per-notebook write lock); appends
// across processes rely on the OS's append-mode atomicity for small writes.
func AppendEntry(path string, entry Entry) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return core.IO(component, fmt.Errorf("open oplog: %w", err))
	}
	defer f.Close()

	b, err := json.Marshal(entry)
	if err != nil {
		return core.Serialization(component, err)
	}
	b = append(b, '\n')
	if _, err := f.Write(b); err != nil {
		return core.IO(component, fmt.Errorf("append oplog: %w", err))
	}
	return f.Sync()
}

// ReadEntries reads path line by line, ignoring empty lines and skipping
// malformed lines (logged by the caller, not here — this package has no
// logger dependency so it stays leaf-level).
func ReadEntries(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, core.IO(component, fmt.Errorf("open oplog: %w", err))
	}
	defer f.Close()

	var entries []Entry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(bytesTrimSpace(line)) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			continue // malformed line: skip, as spec.md §4.3 requires
		}
		entries = append(entries, e)
	}
	if err := sc.Err(); err != nil {
		return entries, core.IO(component, fmt.Errorf("scan oplog: %w", err))
	}
	return entries, nil
}

// ReadLastNEntries returns up to n trailing entries, using a ring buffer
// during the read so memory is bounded regardless of log length.
func ReadLastNEntries(path string, n int) ([]Entry, error) {
	if n <= 0 {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, core.IO(component, fmt.Errorf("open oplog: %w", err))
	}
	defer f.Close()

	ring := make([]Entry, n)
	count := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(bytesTrimSpace(line)) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			continue
		}
		ring[count%n] = e
		count++
	}
	if err := sc.Err(); err != nil {
		return nil, core.IO(component, fmt.Errorf("scan oplog: %w", err))
	}

	if count == 0 {
		return nil, nil
	}
	result := make([]Entry, 0, min(count, n))
	start := 0
	if count > n {
		start = count % n
	}
	for i := 0; i < min(count, n); i++ {
		result = append(result, ring[(start+i)%n])
	}
	return result, nil
}

// ReadLastHash returns the content_hash of the last entry in path, or
// GenesisHash if the file is absent, empty, or unreadable down to no
// entries. Centralizing this avoids every caller re-reading the whole log
// just to find the chain tip.
func ReadLastHash(path string) (string, error) {
	entries, err := ReadEntries(path)
	if err != nil {
		return GenesisHash, err
	}
	if len(entries) == 0 {
		return GenesisHash, nil
	}
	return entries[len(entries)-1].ContentHash, nil
}

// VerifyChain walks entries checking PrevHash == previous.ContentHash
// starting from GenesisHash. Returns (true, -1) if the chain is intact, or
// (false, index) for the index of the first broken link.
func VerifyChain(entries []Entry) (ok bool, brokenAt int) {
	prev := GenesisHash
	for i, e := range entries {
		if e.PrevHash != prev {
			return false, i
		}
		prev = e.ContentHash
	}
	return true, -1
}

// GetClientID returns a stable per-device identifier derived from the
// hostname, falling back to "unknown" if the hostname can't be read.
func GetClientID() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "unknown"
	}
	return h
}

func bytesTrimSpace(b []byte) []byte {
	start := 0
	for start < len(b) && isSpace(b[start]) {
		start++
	}
	end := len(b)
	for end > start && isSpace(b[end-1]) {
		end--
	}
	return b[start:end]
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\r' || c == '\n'
}
