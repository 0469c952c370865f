package support

import (
	"bufio"
	"encoding/base64"
	"fmt"
	"os"
	"strings"
)

// DecodeBase64Loose decodes standard or URL-safe base64 and tolerates missing
// padding, which subscription links strip routinely.
func DecodeBase64Loose(input string) ([]byte, error) {
	input = strings.TrimSpace(input)
	if pad := len(input) % 4; pad != 0 {
		input += strings.Repeat("=", 4-pad)
	}

	if decoded, err := base64.StdEncoding.DecodeString(input); err == nil {
		return decoded, nil
	}
	return base64.URLEncoding.DecodeString(input)
}

// maxLineBytes bounds a single descriptor line; vmess payloads are base64
// blobs that can grow large but never near this.
const maxLineBytes = 1024 * 1024

// ReadLines loads a line-oriented input file, skipping blanks and comments.
func ReadLines(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open input file: %w", err)
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan input file: %w", err)
	}

	return lines, nil
}
