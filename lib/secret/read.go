// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
)

// ReadTokenFile reads an access token from path, or the first line of
// stdin when path is "-". Surrounding whitespace is trimmed. The caller
// must Close the returned Token.
func ReadTokenFile(path string) (*Token, error) {
	if path == "-" {
		return readFirstLine(os.Stdin)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return fromRaw(data)
}

func readFirstLine(reader io.Reader) (*Token, error) {
	scanner := bufio.NewScanner(reader)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("reading stdin: %w", err)
		}
		return nil, fmt.Errorf("stdin is empty")
	}
	return fromRaw(scanner.Bytes())
}

func fromRaw(data []byte) (*Token, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		Zero(data)
		return nil, fmt.Errorf("token is empty")
	}
	token, err := NewToken(trimmed)
	Zero(data)
	return token, err
}
