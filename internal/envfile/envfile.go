// Package envfile loads KEY=VALUE pairs from a dotenv file into the process
// environment.
package envfile

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sort"
	"strings"

	"github.com/joho/godotenv"
)

// Result describes what a Load call did. Values are never recorded.
type Result struct {
	Path   string
	Loaded bool
	// KeysSet lists the keys exported, sorted.
	KeysSet []string
	// KeysKept lists keys present in the file but left alone because the
	// variable was already set and override was off. Sorted.
	KeysKept []string
}

// dollar stands in for "$" while godotenv parses, so values are never
// expanded. NUL cannot appear in an environment value anyway.
const dollar = "\x00"

// Parse reads dotenv content. Blank lines and # comments are skipped, an
// optional "export " prefix is accepted and quoted values are unquoted.
// Values are taken literally: "$VAR" and "${VAR}" are not expanded.
func Parse(r io.Reader) (map[string]string, error) {
	src, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if bytes.IndexByte(src, 0) >= 0 {
		return nil, errors.New("unexpected NUL byte")
	}

	values, err := godotenv.UnmarshalBytes(bytes.ReplaceAll(src, []byte("$"), []byte(dollar)))
	if err != nil {
		return nil, err
	}
	for key, val := range values {
		if strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("empty variable name")
		}
		values[key] = strings.ReplaceAll(val, dollar, "$")
	}
	return values, nil
}

// Load exports every pair from path into the process environment. A missing
// file is not an error: Loaded is false and nothing changes. With override
// set, file values replace variables that are already set, the way a shell
// "export KEY=VALUE" would.
func Load(path string, override bool) (Result, error) {
	res := Result{Path: path}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return res, nil
		}
		return res, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	values, err := Parse(f)
	if err != nil {
		return res, fmt.Errorf("parse %s: %w", path, err)
	}

	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if _, set := os.LookupEnv(key); set && !override {
			res.KeysKept = append(res.KeysKept, key)
			continue
		}
		if err := os.Setenv(key, values[key]); err != nil {
			return res, fmt.Errorf("set %s from %s: %w", key, path, err)
		}
		res.KeysSet = append(res.KeysSet, key)
	}

	res.Loaded = true
	return res, nil
}

// Merge returns environ with the given overrides applied, replacing existing
// entries in place and appending new ones in sorted key order. Keys named in
// remove are dropped entirely.
func Merge(environ []string, overrides map[string]string, remove ...string) []string {
	drop := make(map[string]bool, len(remove))
	for _, key := range remove {
		drop[key] = true
	}

	out := make([]string, 0, len(environ)+len(overrides))
	applied := make(map[string]bool, len(overrides))

	for _, kv := range environ {
		key, _, _ := strings.Cut(kv, "=")
		if drop[key] {
			continue
		}
		if val, ok := overrides[key]; ok {
			if !applied[key] {
				out = append(out, key+"="+val)
				applied[key] = true
			}
			continue
		}
		out = append(out, kv)
	}

	keys := make([]string, 0, len(overrides))
	for key := range overrides {
		if !applied[key] && !drop[key] {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	for _, key := range keys {
		out = append(out, key+"="+overrides[key])
	}

	return out
}
